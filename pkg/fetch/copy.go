package fetch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// File copies local files (or archives local directories)
type File struct{}

// Fetch implements Fetcher
func (f *File) Fetch(ctx context.Context, o *Options) (string, error) {
	pkg := o.Pkg
	src, err := packages.LocalPath(pkg.Site, pkg.DefDir)
	if err != nil {
		return "", err
	}

	file := o.InterimFile()
	switch {
	case utils.DirectoryExists(src):
		o.logger().Verbose("archiving local directory " + src)
		if err := ArchiveDir(src, pkg.Nv, file, utils.VCSMetadata...); err != nil {
			return "", sourceError(pkg, err)
		}
	case utils.FileExists(src):
		o.logger().Verbose("copying local file " + src)
		if err := utils.CopyFile(src, file); err != nil {
			return "", sourceError(pkg, err)
		}
	default:
		return "", types.Errorf(types.ErrSourceAcquisition, "unable to fetch %s: %s does not exist", pkg.Name, src)
	}
	return file, nil
}

// Scp copies remote files over ssh
type Scp struct{}

// Fetch implements Fetcher
func (s *Scp) Fetch(ctx context.Context, o *Options) (string, error) {
	file := o.InterimFile()
	if err := utils.EnsureDirectory(filepath.Dir(file)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}

	o.logger().Note("fetching sources from " + o.Pkg.Site)
	if err := tool.Scp.Execute(ctx, []string{o.Pkg.Site, file}, &tool.Options{Env: o.Env, Log: o.logger()}); err != nil {
		return "", sourceError(o.Pkg, err)
	}
	return file, nil
}

// Rsync synchronizes remote (or local) trees and archives the result
type Rsync struct{}

// Fetch implements Fetcher
func (r *Rsync) Fetch(ctx context.Context, o *Options) (string, error) {
	o.logger().Note("fetching sources from " + o.Pkg.Site)
	return exportTo(o, func(dir string) error {
		src := o.Pkg.Site
		if !strings.HasSuffix(src, "/") {
			src += "/"
		}
		args := []string{"--recursive", "--links", "--times", "--perms"}
		args = append(args, src, dir)
		return tool.Rsync.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger()})
	})
}
