package fetch

import (
	"context"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Hg fetches mercurial repositories into a repository cache
type Hg struct{}

// Fetch implements Fetcher
func (h *Hg) Fetch(ctx context.Context, o *Options) (string, error) {
	pkg := o.Pkg
	log := o.logger()
	opts := &tool.Options{Env: o.Env, Log: log}
	repo := []string{"--repository", pkg.CacheDir}

	if utils.DirectoryExists(pkg.CacheDir) {
		valid := tool.Hg.Succeeds(ctx, append(repo, "root"), opts)
		if valid && !o.IgnoreCache && tool.Hg.Succeeds(ctx, append(repo, "log", "--rev", pkg.Revision), opts) {
			// branches move; bookmark lookups are cheap enough to always refresh
			branch := tool.Hg.Succeeds(ctx, append(repo, "log", "--rev", "branch("+pkg.Revision+")", "--limit", "1"), opts)
			if !branch {
				log.Debug("mercurial cache is up to date", logger.WithField("dir", pkg.CacheDir))
				return pkg.CacheDir, nil
			}
		}
		if !valid {
			log.Warn("mercurial cache is corrupt; recreating", logger.WithField("dir", pkg.CacheDir))
			if err := utils.Remove(pkg.CacheDir); err != nil {
				return "", types.Wrap(types.ErrIO, err)
			}
		}
	}

	log.Note("fetching sources from " + pkg.Site)
	if !utils.DirectoryExists(pkg.CacheDir) {
		if err := tool.Hg.Execute(ctx, []string{"clone", "--noupdate", pkg.Site, pkg.CacheDir}, opts); err != nil {
			return "", sourceError(pkg, err)
		}
	} else if err := tool.Hg.Execute(ctx, append(repo, "pull", pkg.Site), opts); err != nil {
		return "", sourceError(pkg, err)
	}

	if !tool.Hg.Succeeds(ctx, append(repo, "log", "--rev", pkg.Revision), opts) {
		return "", types.Errorf(types.ErrSourceAcquisition, "unable to fetch %s: revision %q not found",
			pkg.Name, pkg.Revision)
	}
	return pkg.CacheDir, nil
}
