package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// exportTo runs an export into a scratch directory and archives the
// result into the interim cache file
func exportTo(o *Options, export func(dir string) error, exclude ...string) (string, error) {
	dir := filepath.Join(o.WorkDir, "export", o.Pkg.Nv)
	if err := utils.Remove(filepath.Dir(dir)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}
	if err := utils.EnsureDirectory(filepath.Dir(dir)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}
	defer utils.Remove(filepath.Dir(dir))

	if err := export(dir); err != nil {
		return "", sourceError(o.Pkg, err)
	}

	file := o.InterimFile()
	o.logger().Verbose("caching sources into " + file)
	if err := ArchiveDir(dir, o.Pkg.Nv, file, exclude...); err != nil {
		return "", err
	}
	return file, nil
}

// Svn exports subversion revisions
type Svn struct{}

// Fetch implements Fetcher
func (s *Svn) Fetch(ctx context.Context, o *Options) (string, error) {
	o.logger().Note("fetching sources from " + o.Pkg.Site)
	return exportTo(o, func(dir string) error {
		args := []string{"export", "--force", "--non-interactive", "--revision", o.Pkg.Revision, o.Pkg.Site, dir}
		return tool.Svn.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger()})
	})
}

// SplitCvsSite splits "<cvsroot> <module>" into its parts
func SplitCvsSite(site string) (root, module string, err error) {
	idx := strings.LastIndex(strings.TrimSpace(site), " ")
	if idx < 0 {
		return "", "", types.Errorf(types.ErrConfiguration, "cvs site %q is missing a module", site)
	}
	site = strings.TrimSpace(site)
	return strings.TrimSpace(site[:idx]), strings.TrimSpace(site[idx+1:]), nil
}

// Cvs exports cvs modules
type Cvs struct{}

// Fetch implements Fetcher
func (c *Cvs) Fetch(ctx context.Context, o *Options) (string, error) {
	root, module, err := SplitCvsSite(o.Pkg.Site)
	if err != nil {
		return "", err
	}

	o.logger().Note("fetching sources from " + root)
	return exportTo(o, func(dir string) error {
		args := []string{"-d", root, "-Q", "checkout", "-d", filepath.Base(dir), "-r", o.Pkg.Revision, module}
		return tool.Cvs.Execute(ctx, args, &tool.Options{Dir: filepath.Dir(dir), Env: o.Env, Log: o.logger()})
	}, "CVS")
}

// Bazaar exports bazaar (or breezy) branches
type Bazaar struct {
	Tool string
}

// Fetch implements Fetcher
func (b *Bazaar) Fetch(ctx context.Context, o *Options) (string, error) {
	log := o.logger()
	env := map[string]string{}
	for k, v := range o.Env {
		env[k] = v
	}

	if o.HasQuirk(types.QuirkBzrCertifi) {
		bundle, err := tool.Python.Output(ctx, []string{"-c", "import certifi; print(certifi.where())"},
			&tool.Options{Log: log})
		if err != nil {
			return "", types.Errorf(types.ErrPrerequisite, "certifi bundle unavailable: %v", err)
		}
		env["SSL_CERT_FILE"] = bundle
	}

	file := o.InterimFile()
	if err := utils.EnsureDirectory(filepath.Dir(file)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}

	log.Note("fetching sources from " + o.Pkg.Site)
	args := []string{
		"export", file, o.Pkg.Site,
		"--format=tgz",
		"--revision=" + o.Pkg.Revision,
		"--root=" + o.Pkg.Nv,
	}
	if err := tool.ForName(b.Tool).Execute(ctx, args, &tool.Options{Env: env, Log: log}); err != nil {
		return "", sourceError(o.Pkg, err)
	}
	return file, nil
}

// Perforce clones depots through git-p4
type Perforce struct{}

// Fetch implements Fetcher
func (p *Perforce) Fetch(ctx context.Context, o *Options) (string, error) {
	o.logger().Note("fetching sources from " + o.Pkg.Site)
	return exportTo(o, func(dir string) error {
		depot := o.Pkg.Site
		if o.Pkg.Revision != "" {
			depot = fmt.Sprintf("%s@%s", depot, o.Pkg.Revision)
		}
		args := []string{"p4", "clone", "--destination", dir, depot}
		return tool.Git.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger()})
	}, ".git")
}
