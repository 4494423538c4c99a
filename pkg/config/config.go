// Package config holds the engine options of a run and the project
// configuration harvested from the project script
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/viper"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Default directory names relative to the root and output directories
const (
	DefaultSysrootPrefix = "/usr"

	defaultOutputDir  = "output"
	defaultCacheDir   = "cache"
	defaultDlDir      = "dl"
	defaultBuildDir   = "build"
	defaultHostDir    = "host"
	defaultStagingDir = "staging"
	defaultTargetDir  = "target"
	defaultImagesDir  = "images"
	defaultLicenseDir = "licenses"
	defaultSymbolsDir = "symbols"
)

// Environment keys consulted for directory overrides (RELENG_ prefixed)
const (
	EnvAssetsDir          = "assets_dir"
	EnvCacheDir           = "cache_dir"
	EnvDlDir              = "dl_dir"
	EnvOutputContainerDir = "global_output_container_dir"
)

// Options is the process-wide configuration of a run. It is assembled from
// the command line and the project configuration before any stage runs and
// is read-only afterwards.
type Options struct {
	RootDir    string
	ConfigFile string
	AssetsDir  string
	OutDir     string
	BuildDir   string
	CacheDir   string
	DlDir      string
	HostDir    string
	StagingDir string
	TargetDir  string
	ImagesDir  string
	LicenseDir string
	SymbolsDir string

	SysrootPrefix string

	// Jobs is the effective job count; JobsConf is the configured value
	// where zero selects automatic
	Jobs     int
	JobsConf int

	Devmode     bool
	DevmodeMode string

	// LocalSrcs maps package names to local source paths when
	// local-sources mode is active (nil otherwise)
	LocalSrcs map[string]string

	Quirks           map[string]bool
	RevisionOverride map[string]string
	SitesOverride    map[string]string
	ExtractOverride  map[string]string
	URLMirror        string
	DefaultInternal  bool
	ExternalPkgDirs  []string
	Extensions       []string
	Prerequisites    []string

	Force       bool
	OnlyMirror  bool
	Verbose     bool
	Debug       bool
	Werror      bool
	NoColor     bool
	RelaxedArgs bool

	Profiles      []string
	InjectedKV    map[string]string
	ForwardedArgs []string
	SbomFormats   []string

	Action        types.GlobalAction
	TargetPackage string
	TargetAction  types.PkgAction
}

// NewOptions creates options with defaults applied
func NewOptions() *Options {
	return &Options{
		SysrootPrefix:    DefaultSysrootPrefix,
		Quirks:           map[string]bool{},
		RevisionOverride: map[string]string{},
		SitesOverride:    map[string]string{},
		ExtractOverride:  map[string]string{},
		InjectedKV:       map[string]string{},
	}
}

// NewEnvironment creates the viper instance used for RELENG_* overrides
func NewEnvironment() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RELENG")
	v.AutomaticEnv()
	return v
}

// Resolve fills directories and job counts left unset. Flags already set
// on the options win over environment overrides, which win over defaults.
func (o *Options) Resolve(env *viper.Viper) error {
	if env == nil {
		env = NewEnvironment()
	}

	root := o.RootDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return types.Wrap(types.ErrIO, err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	o.RootDir = root

	if o.AssetsDir == "" {
		o.AssetsDir = env.GetString(EnvAssetsDir)
	}
	if o.CacheDir == "" {
		o.CacheDir = env.GetString(EnvCacheDir)
	}
	if o.DlDir == "" {
		o.DlDir = env.GetString(EnvDlDir)
	}
	if o.AssetsDir != "" {
		if o.CacheDir == "" {
			o.CacheDir = filepath.Join(o.AssetsDir, defaultCacheDir)
		}
		if o.DlDir == "" {
			o.DlDir = filepath.Join(o.AssetsDir, defaultDlDir)
		}
	}
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(root, defaultCacheDir)
	}
	if o.DlDir == "" {
		o.DlDir = filepath.Join(root, defaultDlDir)
	}

	if o.OutDir == "" {
		if container := env.GetString(EnvOutputContainerDir); container != "" {
			o.OutDir = filepath.Join(container, filepath.Base(root))
		} else {
			o.OutDir = filepath.Join(root, defaultOutputDir)
		}
	}

	dirs := []struct {
		field *string
		name  string
	}{
		{&o.BuildDir, defaultBuildDir},
		{&o.HostDir, defaultHostDir},
		{&o.StagingDir, defaultStagingDir},
		{&o.TargetDir, defaultTargetDir},
		{&o.ImagesDir, defaultImagesDir},
		{&o.LicenseDir, defaultLicenseDir},
		{&o.SymbolsDir, defaultSymbolsDir},
	}
	for _, d := range dirs {
		if *d.field == "" {
			*d.field = filepath.Join(o.OutDir, d.name)
		}
	}

	for _, p := range []*string{&o.CacheDir, &o.DlDir, &o.OutDir, &o.AssetsDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return types.Wrap(types.ErrIO, err)
		}
		*p = abs
	}

	if o.JobsConf < 0 {
		return types.Errorf(types.ErrConfiguration, "invalid job count: %d", o.JobsConf)
	}
	o.Jobs = o.JobsConf
	if o.Jobs == 0 {
		o.Jobs = runtime.NumCPU()
	}

	if o.SysrootPrefix == "" {
		o.SysrootPrefix = DefaultSysrootPrefix
	}
	return nil
}

// HasQuirk reports whether a quirk is enabled
func (o *Options) HasQuirk(quirk string) bool {
	return o.Quirks[quirk]
}

// QuirkList returns the enabled quirks, sorted
func (o *Options) QuirkList() []string {
	quirks := make([]string, 0, len(o.Quirks))
	for q, enabled := range o.Quirks {
		if enabled {
			quirks = append(quirks, q)
		}
	}
	sort.Strings(quirks)
	return quirks
}

// LocalSourcesEnabled reports whether local-sources mode is active
func (o *Options) LocalSourcesEnabled() bool {
	return o.LocalSrcs != nil
}

// LocalSourcePath returns the local source directory of a package, if the
// package is built from local sources
func (o *Options) LocalSourcePath(name string) (string, bool) {
	if o.LocalSrcs == nil {
		return "", false
	}
	if path, ok := o.LocalSrcs[name]; ok {
		if path == "" {
			return "", false
		}
		return path, true
	}

	base := o.LocalSrcs[""]
	if base == "" {
		base = filepath.Dir(o.RootDir)
	}
	return filepath.Join(base, name), true
}

// Apply merges a project configuration into the options
func (o *Options) Apply(project *ProjectConfig) {
	for _, q := range project.Quirks {
		o.Quirks[q] = true
	}
	for k, v := range project.OverrideRevisions {
		o.RevisionOverride[k] = v
	}
	for k, v := range project.OverrideSites {
		o.SitesOverride[k] = v
	}
	for k, v := range project.OverrideExtractTools {
		o.ExtractOverride[k] = v
	}
	if project.SysrootPrefix != "" {
		o.SysrootPrefix = project.SysrootPrefix
	}
	if project.URLMirror != "" {
		o.URLMirror = project.URLMirror
	}
	o.DefaultInternal = project.DefaultInternal
	o.Extensions = append(o.Extensions, project.Extensions...)
	o.Prerequisites = append(o.Prerequisites, project.Prerequisites...)

	for _, dir := range project.ExternalPackages {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(o.RootDir, dir)
		}
		o.ExternalPkgDirs = append(o.ExternalPkgDirs, dir)
	}
}

// PackageDir returns the default package definitions directory
func (o *Options) PackageDir() string {
	return filepath.Join(o.RootDir, "package")
}

// Summary renders the resolved directories for debug output
func (o *Options) Summary() []string {
	return []string{
		fmt.Sprintf("root: %s", o.RootDir),
		fmt.Sprintf("output: %s", o.OutDir),
		fmt.Sprintf("cache: %s", o.CacheDir),
		fmt.Sprintf("dl: %s", o.DlDir),
		fmt.Sprintf("jobs: %d", o.Jobs),
	}
}
