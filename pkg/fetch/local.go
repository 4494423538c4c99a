package fetch

import (
	"context"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Local-sources clones populate the package's build directory directly.
// An existing directory is left untouched; it belongs to the developer.

func localClone(o *Options, clone func(dir string) error) (string, error) {
	dir := o.Pkg.BuildDir
	if utils.DirectoryExists(dir) {
		o.logger().Verbose("using local sources at " + dir)
		return dir, nil
	}
	if err := utils.EnsureDirectory(filepath.Dir(dir)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}

	o.logger().Note("cloning local sources into " + dir)
	if err := clone(dir); err != nil {
		_ = utils.Remove(dir)
		return "", sourceError(o.Pkg, err)
	}
	return dir, nil
}

func localGit(ctx context.Context, o *Options) (string, error) {
	return localClone(o, func(dir string) error {
		opts := &tool.Options{Env: o.Env, Log: o.logger()}
		if err := tool.Git.Execute(ctx, []string{"clone", "--no-checkout", o.Pkg.Site, dir}, opts); err != nil {
			return err
		}
		opts.Dir = dir
		if err := tool.Git.Execute(ctx, []string{"checkout", o.Pkg.Revision}, opts); err != nil {
			return err
		}
		if !o.Pkg.GitSubmodules {
			return nil
		}
		return tool.Git.Execute(ctx, []string{"submodule", "update", "--init", "--recursive"}, opts)
	})
}

func localHg(ctx context.Context, o *Options) (string, error) {
	return localClone(o, func(dir string) error {
		args := []string{"clone", "--updaterev", o.Pkg.Revision, o.Pkg.Site, dir}
		return tool.Hg.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger()})
	})
}

func localSvn(ctx context.Context, o *Options) (string, error) {
	return localClone(o, func(dir string) error {
		args := []string{"checkout", "--non-interactive", "--revision", o.Pkg.Revision, o.Pkg.Site, dir}
		return tool.Svn.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger()})
	})
}

func localCvs(ctx context.Context, o *Options) (string, error) {
	root, module, err := SplitCvsSite(o.Pkg.Site)
	if err != nil {
		return "", err
	}
	return localClone(o, func(dir string) error {
		args := []string{"-d", root, "-Q", "checkout", "-d", filepath.Base(dir), "-r", o.Pkg.Revision, module}
		return tool.Cvs.Execute(ctx, args, &tool.Options{Dir: filepath.Dir(dir), Env: o.Env, Log: o.logger()})
	})
}
