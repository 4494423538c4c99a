// Package extract unpacks fetched sources into a package's build directory
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
	"github.com/releng-tool/releng-tool-sub001/pkg/verify"
)

// Options describe a single extraction
type Options struct {
	Pkg  *packages.Package
	Opts *config.Options

	// Source is the cache file or repository cache to extract from
	Source string

	// WorkDir is an empty directory receiving the sources
	WorkDir string

	Env map[string]string
	Log logger.Logger
}

func (o *Options) logger() logger.Logger {
	if o.Log == nil {
		return logger.Discard()
	}
	return o.Log
}

// HasQuirk reports whether a quirk is enabled for the run
func (o *Options) HasQuirk(quirk string) bool {
	return o.Opts != nil && o.Opts.HasQuirk(quirk)
}

// Extractor populates a working directory from fetched sources
type Extractor interface {
	Extract(ctx context.Context, opts *Options) error
}

// ExtractorFunc adapts a function into an Extractor
type ExtractorFunc func(ctx context.Context, opts *Options) error

// Extract implements Extractor
func (f ExtractorFunc) Extract(ctx context.Context, opts *Options) error {
	return f(ctx, opts)
}

// ExtensionPrefix prefixes the registry names of extension extractors
const ExtensionPrefix = "ext-"

// Registry selects extractors for packages
type Registry struct {
	extensions map[string]Extractor
}

// NewRegistry creates a registry holding the built-in extractors
func NewRegistry() *Registry {
	return &Registry{extensions: map[string]Extractor{}}
}

// Register adds an extension extractor under "ext-<name>"
func (r *Registry) Register(name string, e Extractor) {
	r.extensions[ExtensionPrefix+strings.TrimPrefix(name, ExtensionPrefix)] = e
}

// Has reports whether an extension extractor is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.extensions[name]
	return ok
}

// For selects the extractor of a package: an explicit extract type, then
// the source type, then an override tool for the cache extension, then
// the archive format, and finally a verbatim copy.
func (r *Registry) For(pkg *packages.Package, opts *config.Options) (Extractor, error) {
	if pkg.ExtractType != "" {
		if e, ok := r.extensions[pkg.ExtractType]; ok {
			return e, nil
		}
		if e, ok := r.extensions[ExtensionPrefix+pkg.ExtractType]; ok {
			return e, nil
		}
		return nil, types.Errorf(types.ErrConfiguration, "package %s: unknown extract type %s",
			pkg.Name, pkg.ExtractType)
	}

	switch pkg.VcsType {
	case types.VcsTypeGit:
		return &Git{}, nil
	case types.VcsTypeHg:
		return &Hg{}, nil
	}

	ext := strings.ToLower(pkg.CacheExt)
	if opts != nil {
		if template, ok := opts.ExtractOverride[ext]; ok {
			return &Command{Template: template}, nil
		}
	}

	switch {
	case IsTar(ext):
		return &Tar{}, nil
	case ext == "zip":
		return &Zip{}, nil
	default:
		return &Copy{}, nil
	}
}

// IsTar reports whether a cache extension names a tar archive
func IsTar(ext string) bool {
	switch ext {
	case "tar", "tb2", "tbz", "tbz2", "tgz", "tlz", "txz", "tz2":
		return true
	}
	return strings.HasPrefix(ext, "tar.")
}

// Stage extracts a package into a fresh working directory, verifies the
// result when the package ships a tree manifest, and renames the working
// directory onto the build directory. The build directory is never
// created when extraction fails.
func Stage(ctx context.Context, reg *Registry, o *Options) error {
	pkg := o.Pkg
	log := o.logger()

	e, err := reg.For(pkg, o.Opts)
	if err != nil {
		return err
	}

	parent := filepath.Dir(pkg.BuildDir)
	if err := utils.EnsureDirectory(parent); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	work, err := os.MkdirTemp(parent, ".tmp-"+pkg.Nv+"-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	defer utils.Remove(work)

	local := *o
	local.WorkDir = work
	log.Verbose("extracting sources", logger.WithField("work", work))
	if err := e.Extract(ctx, &local); err != nil {
		if ctx.Err() != nil {
			return types.Wrap(types.ErrUserAbort, ctx.Err())
		}
		return types.Wrap(types.ErrExtraction, fmt.Errorf("unable to extract %s: %w", pkg.Name, err))
	}

	if pkg.VcsType.IsDVCS() && utils.FileExists(pkg.HashFile) {
		if report := verify.Tree(ctx, pkg.HashFile, work, false); !report.Result.OK() {
			return types.Errorf(types.ErrIntegrity, "package %s: extracted sources failed verification: %s",
				pkg.Name, report)
		}
		log.Verbose("extracted sources verified")
	}

	if err := utils.Remove(pkg.BuildDir); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := os.Rename(work, pkg.BuildDir); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to move sources into %s: %w", pkg.BuildDir, err))
	}
	return nil
}
