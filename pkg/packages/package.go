// Package packages loads package definitions and orders them by dependency
package packages

import (
	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// CMakeOutputDir is appended to the build output directory of CMake
// packages, which build out of source
const CMakeOutputDir = "releng-output"

// Package is a fully resolved package definition. Identity and paths do
// not change once the loader returns it.
type Package struct {
	Name    string
	Version string
	Nv      string
	DefDir  string
	Script  string

	VcsType         types.VcsType
	Site            string
	Revision        string
	DevmodeRevision string
	LocalSrcs       bool

	Type        types.PackageType
	InstallType types.InstallType
	Internal    bool

	// Prefix overrides the sysroot prefix when HasPrefix is set (an
	// empty prefix installs at the destination root)
	Prefix    string
	HasPrefix bool

	BuildDir       string
	BuildOutputDir string
	BuildSubdir    string
	PatchSubdir    string
	CacheDir       string
	CacheFile      string
	CacheExt       string
	HashFile       string
	AscFile        string

	ExtractType  string
	NoExtraction bool
	StripCount   int
	FixedJobs    int
	License      []string
	LicenseFiles []string

	DepNames []string
	Deps     []*Package

	Flags *state.Flags

	ConfDefs    map[string]string
	ConfEnv     map[string]string
	ConfOpts    []string
	BuildDefs   map[string]string
	BuildEnv    map[string]string
	BuildOpts   []string
	InstallDefs map[string]string
	InstallEnv  map[string]string
	InstallOpts []string
	SkipInstall bool

	AutotoolsAutoreconf bool

	// GitDepth is nil when unset (fetcher default)
	GitDepth          *int
	GitRefspecs       []string
	GitSubmodules     bool
	GitConfig         map[string]string
	GitVerifyRevision bool

	DevmodeIgnoreCache bool

	PythonInterpreter     string
	PythonSetupType       types.PythonSetupType
	PythonInstallerScheme string

	ExtOpt map[string]any
}

// IsExternal reports whether the package is external to the project
func (p *Package) IsExternal() bool {
	return !p.Internal
}

// WorkDir returns the directory builders run in
func (p *Package) WorkDir() string {
	if p.BuildSubdir != "" {
		return p.BuildSubdir
	}
	return p.BuildDir
}

// HasCacheFile reports whether the package sources land in a download
// cache file (as opposed to a repository cache directory)
func (p *Package) HasCacheFile() bool {
	return p.VcsType.IsSourced() && !p.VcsType.IsDVCS()
}

// NeedsFetch reports whether the package has sources to acquire
func (p *Package) NeedsFetch() bool {
	return p.VcsType.IsSourced()
}
