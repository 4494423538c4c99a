package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/fetch"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Git checks out a revision from a bare repository cache
type Git struct{}

// Extract implements Extractor
func (g *Git) Extract(ctx context.Context, o *Options) error {
	pkg := o.Pkg
	source := o.Source
	if source == "" {
		source = pkg.CacheDir
	}

	co := &checkout{
		replicate:  o.HasQuirk(types.QuirkGitReplicateCache),
		submodules: pkg.GitSubmodules,
		cacheRoot:  pkg.CacheDir,
		env:        o.Env,
		log:        o.logger(),
	}
	return co.tree(ctx, source, o.WorkDir, pkg.Revision)
}

type checkout struct {
	replicate  bool
	submodules bool
	cacheRoot  string
	env        map[string]string
	log        logger.Logger
}

func (c *checkout) tree(ctx context.Context, cache, dir, revision string) error {
	cacheRepo := &fetch.GitRepo{Dir: cache, Env: c.env, Log: c.log, Quiet: true}
	hash, kind := cacheRepo.Resolve(ctx, revision)
	if hash == "" {
		return types.Errorf(types.ErrExtraction, "revision %q is missing from cache %s", revision, cache)
	}

	if err := utils.EnsureDirectory(dir); err != nil {
		return err
	}

	gitDir := cache
	dotGit := filepath.Join(dir, ".git")
	if c.replicate {
		gitDir = dotGit
		if err := utils.Copy(cache, dotGit); err != nil {
			return fmt.Errorf("unable to replicate cache: %w", err)
		}
	} else {
		abs, err := filepath.Abs(cache)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dotGit, []byte("gitdir: "+abs+"\n"), 0o644); err != nil {
			return err
		}
	}

	repo := &fetch.GitRepo{Dir: gitDir, WorkTree: dir, Env: c.env, Log: c.log, Quiet: true}
	if c.replicate {
		if err := repo.Run(ctx, "config", "core.bare", "false"); err != nil {
			return err
		}
	}
	if err := repo.Run(ctx, "checkout", "--force", hash); err != nil {
		return err
	}
	if kind == fetch.RevisionBranch {
		// the local checkout may trail a branch which moved upstream
		if err := repo.Run(ctx, "reset", "--hard", "refs/remotes/origin/"+revision); err != nil {
			return err
		}
	}

	if !c.submodules {
		return nil
	}
	subs, err := repo.Submodules(ctx, hash)
	if err != nil {
		return err
	}
	for _, sm := range subs {
		target := filepath.Join(dir, filepath.FromSlash(sm.Path))
		if !utils.IsWithin(dir, target) || target == dir {
			return traversal(sm.Path)
		}
		c.log.Verbose("checking out submodule " + sm.Path)
		subCache := fetch.SubmoduleCacheDir(c.cacheRoot, sm.URL)
		if err := c.tree(ctx, subCache, target, sm.Revision); err != nil {
			return fmt.Errorf("submodule %s: %w", sm.Path, err)
		}
	}
	return nil
}
