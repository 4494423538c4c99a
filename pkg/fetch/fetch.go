// Package fetch acquires package sources from their origin
package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Options describe a single fetch request
type Options struct {
	Pkg  *packages.Package
	Opts *config.Options

	// WorkDir is a per-run scratch directory on the same filesystem as
	// the download cache; interim cache files are written here
	WorkDir string

	IgnoreCache bool
	Env         map[string]string
	Log         logger.Logger
}

// InterimFile returns where a fetcher writes the cache file before it is
// verified and moved into place
func (o *Options) InterimFile() string {
	return filepath.Join(o.WorkDir, filepath.Base(o.Pkg.CacheFile))
}

// HasQuirk reports whether a quirk is enabled for the run
func (o *Options) HasQuirk(quirk string) bool {
	return o.Opts != nil && o.Opts.HasQuirk(quirk)
}

func (o *Options) logger() logger.Logger {
	if o.Log == nil {
		return logger.Discard()
	}
	return o.Log
}

// Fetcher acquires sources. It returns the repository cache directory,
// the interim cache file, or (for local sources) the build directory.
type Fetcher interface {
	Fetch(ctx context.Context, opts *Options) (string, error)
}

// FetcherFunc adapts a function into a Fetcher
type FetcherFunc func(ctx context.Context, opts *Options) (string, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, opts *Options) (string, error) {
	return f(ctx, opts)
}

// ExtensionPrefix prefixes the registry names of extension fetchers
const ExtensionPrefix = "ext-"

// Registry maps VCS types to fetchers
type Registry struct {
	fetchers map[types.VcsType]Fetcher
	local    map[types.VcsType]Fetcher
}

// NewRegistry creates a registry with every built-in fetcher
func NewRegistry() *Registry {
	r := &Registry{
		fetchers: map[types.VcsType]Fetcher{
			types.VcsTypeBrz:      &Bazaar{Tool: "brz"},
			types.VcsTypeBzr:      &Bazaar{Tool: "bzr"},
			types.VcsTypeCvs:      &Cvs{},
			types.VcsTypeFile:     &File{},
			types.VcsTypeGit:      &Git{},
			types.VcsTypeHg:       &Hg{},
			types.VcsTypePerforce: &Perforce{},
			types.VcsTypeRsync:    &Rsync{},
			types.VcsTypeScp:      &Scp{},
			types.VcsTypeSvn:      &Svn{},
			types.VcsTypeURL:      NewURL(),
		},
		local: map[types.VcsType]Fetcher{
			types.VcsTypeCvs: FetcherFunc(localCvs),
			types.VcsTypeGit: FetcherFunc(localGit),
			types.VcsTypeHg:  FetcherFunc(localHg),
			types.VcsTypeSvn: FetcherFunc(localSvn),
		},
	}
	return r
}

// Register adds an extension fetcher under "ext-<name>"
func (r *Registry) Register(name string, f Fetcher) {
	r.fetchers[types.VcsType(ExtensionPrefix+strings.TrimPrefix(name, ExtensionPrefix))] = f
}

// For returns the fetcher of a VCS type
func (r *Registry) For(vcs types.VcsType) (Fetcher, bool) {
	f, ok := r.fetchers[vcs]
	return f, ok
}

// ForLocalSources returns the fetcher cloning sources directly into the
// build directory for local-sources mode
func (r *Registry) ForLocalSources(vcs types.VcsType) (Fetcher, bool) {
	f, ok := r.local[vcs]
	return f, ok
}

// Types lists every registered VCS type
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.fetchers))
	for vcs := range r.fetchers {
		names = append(names, string(vcs))
	}
	sort.Strings(names)
	return names
}

func sourceError(pkg *packages.Package, err error) error {
	return types.Wrap(types.ErrSourceAcquisition, fmt.Errorf("unable to fetch %s: %w", pkg.Name, err))
}
