package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/releng-tool/releng-tool-sub001/pkg/fetch"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
	"github.com/releng-tool/releng-tool-sub001/pkg/verify"
)

// fetch acquires the sources of a package. A valid cache file is reused;
// a freshly fetched file is verified in the per-run work directory and
// only then moved onto the cache file.
func (e *Engine) fetch(ctx context.Context, r *pkgRun) error {
	pkg := r.pkg
	if !pkg.NeedsFetch() {
		return nil
	}

	if pkg.LocalSrcs {
		f, ok := e.deps.Fetchers.ForLocalSources(pkg.VcsType)
		if !ok {
			if !utils.DirectoryExists(pkg.BuildDir) {
				return types.Errorf(types.ErrSourceAcquisition,
					"package %s: local sources missing at %s", pkg.Name, pkg.BuildDir)
			}
			return nil
		}
		_, err := f.Fetch(ctx, e.fetchOptions(r, ""))
		return e.fetchError(ctx, pkg, err)
	}

	f, ok := e.deps.Fetchers.For(pkg.VcsType)
	if !ok {
		return types.Errorf(types.ErrConfiguration, "package %s: no fetcher for vcs type %s",
			pkg.Name, pkg.VcsType)
	}

	ignoreCache := e.opts.Force || (e.opts.Devmode && pkg.DevmodeIgnoreCache)
	if pkg.HasCacheFile() && utils.FileExists(pkg.CacheFile) {
		if ignoreCache {
			r.log.Verbose("removing cached file " + pkg.CacheFile)
			if err := utils.Remove(pkg.CacheFile); err != nil {
				return types.Wrap(types.ErrIO, err)
			}
		} else if err := e.verifyCache(ctx, pkg, pkg.CacheFile, r.log, false); err == nil {
			r.log.Verbose("using cached file " + pkg.CacheFile)
			return nil
		} else {
			r.log.Warn(fmt.Sprintf("cached file failed verification, fetching again: %v", err))
			if err := utils.Remove(pkg.CacheFile); err != nil {
				return types.Wrap(types.ErrIO, err)
			}
		}
	}

	work := filepath.Join(e.opts.DlDir, ".tmp-"+uuid.NewString())
	if err := utils.EnsureDirectory(work); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if e.Shutdown != nil {
		e.Shutdown.RegisterShutdownHandler(func() { _ = utils.Remove(work) })
	}
	defer func() {
		if err := utils.Remove(work); err != nil {
			r.log.Warn("unable to remove fetch work directory", logger.WithField("error", err))
		}
	}()

	o := e.fetchOptions(r, work)
	o.IgnoreCache = ignoreCache
	result, err := f.Fetch(ctx, o)
	if err != nil {
		return e.fetchError(ctx, pkg, err)
	}
	if result == pkg.CacheDir || !pkg.HasCacheFile() {
		return nil
	}
	if !utils.FileExists(result) {
		return types.Errorf(types.ErrSourceAcquisition, "package %s: fetcher produced no file at %s",
			pkg.Name, result)
	}

	if err := e.verifyCache(ctx, pkg, result, r.log, true); err != nil {
		return err
	}
	if err := utils.EnsureDirectory(filepath.Dir(pkg.CacheFile)); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := utils.Move(result, pkg.CacheFile); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to store %s: %w", pkg.CacheFile, err))
	}
	r.log.Debug("stored cache file " + pkg.CacheFile)
	return nil
}

func (e *Engine) fetchOptions(r *pkgRun, work string) *fetch.Options {
	return &fetch.Options{
		Pkg:     r.pkg,
		Opts:    e.opts,
		WorkDir: work,
		Env:     r.env,
		Log:     r.log,
	}
}

func (e *Engine) fetchError(ctx context.Context, pkg *packages.Package, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return types.Wrap(types.ErrUserAbort, ctx.Err())
	}
	if types.KindOf(err) == nil {
		err = types.Wrap(types.ErrSourceAcquisition, fmt.Errorf("package %s: %w", pkg.Name, err))
	}
	return err
}

// verifyCache checks a cache file against the package's hash manifest and
// detached signature. A package without a manifest is accepted; a fresh
// download without one is reported.
func (e *Engine) verifyCache(ctx context.Context, pkg *packages.Package, path string, log logger.Logger,
	fresh bool) error {
	if utils.FileExists(pkg.HashFile) {
		report := verify.Hashes(pkg.HashFile, []string{path}, false)
		if !report.Result.OK() {
			return types.Errorf(types.ErrIntegrity, "package %s: hash check failed for %s: %s",
				pkg.Name, filepath.Base(path), report)
		}
		log.Verbose("hash verified", logger.WithField("file", filepath.Base(path)))
	} else if fresh {
		if pkg.Internal {
			log.Debug("no hash file for internal package")
		} else {
			log.Warn("missing hash file " + pkg.HashFile)
		}
	}

	if utils.FileExists(pkg.AscFile) {
		if err := verify.GPG(ctx, path, pkg.AscFile, log); err != nil {
			return err
		}
		log.Verbose("signature verified", logger.WithField("file", filepath.Base(path)))
	}
	return nil
}
