package packages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Definition script suffixes in order of preference
var scriptSuffixes = []string{".rt", ".releng", ""}

// Loader turns package definition scripts into packages
type Loader struct {
	Opts   *config.Options
	Runner *script.Runner
	Log    logger.Logger

	// CacheExt is the project hook consulted for URL cache extensions
	CacheExt *script.Callable

	// ExtensionVcsTypes and ExtensionPackageTypes accept types provided
	// by registered extensions
	ExtensionVcsTypes     map[string]bool
	ExtensionPackageTypes map[string]bool
}

// NewLoader creates a loader for the provided options
func NewLoader(opts *config.Options, runner *script.Runner, log logger.Logger) *Loader {
	return &Loader{Opts: opts, Runner: runner, Log: log}
}

// Find locates the definition script of a package, searching external
// package directories before the project's package directory
func (l *Loader) Find(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", types.Errorf(types.ErrConfiguration, "invalid package name: %q", name)
	}

	dirs := append([]string{}, l.Opts.ExternalPkgDirs...)
	dirs = append(dirs, l.Opts.PackageDir())
	for _, dir := range dirs {
		defDir := filepath.Join(dir, name)
		for _, suffix := range scriptSuffixes {
			path := filepath.Join(defDir, name+suffix)
			if utils.FileExists(path) {
				return path, nil
			}
		}
	}
	return "", types.Errorf(types.ErrConfiguration, "unknown package: %s (no definition in %s)",
		name, strings.Join(dirs, ", "))
}

// Load evaluates the definition of a package against an inherited script
// environment. It returns the package, the environment extended with the
// script's exported globals, and the declared dependency names.
func (l *Loader) Load(ctx context.Context, name string, env map[string]any) (*Package, map[string]any, error) {
	path, err := l.Find(name)
	if err != nil {
		return nil, nil, err
	}
	defDir := filepath.Dir(path)

	scriptEnv := make(map[string]any, len(env)+2)
	for k, v := range env {
		scriptEnv[k] = v
	}
	scriptEnv["PKG_DEFDIR"] = defDir
	scriptEnv["PKG_NAME"] = name

	if l.Log != nil {
		l.Log.Debug(fmt.Sprintf("loading package script %s", path))
	}
	result, err := l.Runner.RunContext(ctx, path, scriptEnv)
	if err != nil {
		return nil, nil, err
	}

	pkg, err := l.build(name, path, config.Values(result))
	if err != nil {
		return nil, nil, err
	}

	exported := script.FilterGlobals(result)
	delete(exported, "PKG_DEFDIR")
	delete(exported, "PKG_NAME")
	return pkg, exported, nil
}

// fetcher reads keys of a single package, remembering the first error
type fetcher struct {
	name   string
	values config.Values
	err    error
}

func (f *fetcher) key(suffix string) string {
	return Key(f.name, suffix)
}

func (f *fetcher) fail(err error) {
	if f.err == nil && err != nil {
		f.err = err
	}
}

func (f *fetcher) str(suffix string) (string, bool) {
	v, ok, err := f.values.String(f.key(suffix))
	f.fail(err)
	return v, ok
}

func (f *fetcher) boolean(suffix string) (bool, bool) {
	v, ok, err := f.values.Bool(f.key(suffix))
	f.fail(err)
	return v, ok
}

func (f *fetcher) strs(suffix string) []string {
	v, _, err := f.values.Strings(f.key(suffix))
	f.fail(err)
	return v
}

func (f *fetcher) strMap(suffix string) map[string]string {
	v, _, err := f.values.StringMap(f.key(suffix))
	f.fail(err)
	return v
}

func (f *fetcher) args(suffix string) []string {
	v, _, err := f.values.Args(f.key(suffix))
	f.fail(err)
	return v
}

func (f *fetcher) nonNegInt(suffix string) (int, bool) {
	v, ok, err := f.values.NonNegativeInt(f.key(suffix))
	f.fail(err)
	return v, ok
}

func (f *fetcher) posInt(suffix string) (int, bool) {
	v, ok, err := f.values.PositiveInt(f.key(suffix))
	f.fail(err)
	return v, ok
}

func (f *fetcher) dict(suffix string) map[string]any {
	v, _, err := f.values.Dict(f.key(suffix))
	f.fail(err)
	return v
}

func (l *Loader) build(name, path string, values config.Values) (*Package, error) {
	opts := l.Opts
	f := &fetcher{name: name, values: values}
	pkg := &Package{Name: name, Script: path, DefDir: filepath.Dir(path)}

	version, hasVersion := f.str(KeyVersion)
	revision, hasRevision := f.str(KeyRevision)
	if rev, ok := opts.RevisionOverride[name]; ok {
		revision, hasRevision = rev, true
	}
	pkg.DevmodeRevision, _ = f.str(KeyDevmodeRevision)
	if f.err != nil {
		return nil, f.err
	}

	if opts.Devmode && pkg.DevmodeRevision != "" {
		version, hasVersion = pkg.DevmodeRevision, true
		revision, hasRevision = pkg.DevmodeRevision, true
	}
	if !hasVersion || version == "" {
		if !hasRevision || revision == "" {
			return nil, types.Errorf(types.ErrConfiguration, "package %s: missing required key %s",
				name, f.key(KeyVersion))
		}
		version = revision
	}
	if !hasRevision || revision == "" {
		revision = version
	}
	pkg.Version = version
	pkg.Revision = revision
	pkg.Nv = name + "-" + version

	site, _ := f.str(KeySite)
	if override, ok := opts.SitesOverride[name]; ok {
		site = override
	}

	if vcs, ok := f.str(KeyVcsType); ok {
		vcsType, err := types.ParseVcsType(vcs)
		if err != nil {
			if !l.ExtensionVcsTypes[vcs] {
				return nil, fmt.Errorf("package %s: %w", name, err)
			}
			vcsType = types.VcsType(vcs)
		}
		pkg.VcsType = vcsType
		pkg.Site = stripSitePrefix(vcsType, site)
	} else {
		pkg.VcsType, pkg.Site = InferVcsType(site)
	}
	if pkg.VcsType != types.VcsTypeNone && pkg.VcsType != types.VcsTypeLocal && pkg.Site == "" {
		return nil, types.Errorf(types.ErrConfiguration, "package %s: missing site for vcs type %s",
			name, pkg.VcsType)
	}

	pkg.Type = types.PackageTypeScript
	if value, ok := f.str(KeyType); ok {
		pkgType, err := types.ParsePackageType(value)
		if err != nil {
			if !l.ExtensionPackageTypes[value] {
				return nil, fmt.Errorf("package %s: %w", name, err)
			}
			pkgType = types.PackageType(value)
		}
		pkg.Type = pkgType
	}

	pkg.InstallType = types.InstallTypeTarget
	if value, ok := f.str(KeyInstallType); ok {
		installType, err := types.ParseInstallType(value)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", name, err)
		}
		pkg.InstallType = installType
	}

	external, hasExternal := f.boolean(KeyExternal)
	internal, hasInternal := f.boolean(KeyInternal)
	switch {
	case hasExternal && hasInternal && external == internal:
		return nil, types.Errorf(types.ErrConfiguration,
			"package %s: conflicting %s and %s", name, f.key(KeyExternal), f.key(KeyInternal))
	case hasInternal:
		pkg.Internal = internal
	case hasExternal:
		pkg.Internal = !external
	default:
		pkg.Internal = opts.DefaultInternal
	}

	pkg.Prefix, pkg.HasPrefix = f.str(KeyPrefix)
	pkg.DepNames = f.strs(KeyDependencies)
	pkg.ExtractType, _ = f.str(KeyExtractType)
	pkg.NoExtraction, _ = f.boolean(KeyNoExtraction)
	pkg.StripCount = 1
	if strip, ok := f.nonNegInt(KeyStripCount); ok {
		pkg.StripCount = strip
	}
	pkg.FixedJobs, _ = f.posInt(KeyFixedJobs)
	pkg.License = f.strs(KeyLicense)
	pkg.LicenseFiles = f.strs(KeyLicenseFiles)

	pkg.ConfDefs = f.strMap(KeyConfDefs)
	pkg.ConfEnv = f.strMap(KeyConfEnv)
	pkg.ConfOpts = f.args(KeyConfOpts)
	pkg.BuildDefs = f.strMap(KeyBuildDefs)
	pkg.BuildEnv = f.strMap(KeyBuildEnv)
	pkg.BuildOpts = f.args(KeyBuildOpts)
	pkg.InstallDefs = f.strMap(KeyInstallDefs)
	pkg.InstallEnv = f.strMap(KeyInstallEnv)
	pkg.InstallOpts = f.args(KeyInstallOpts)

	pkg.AutotoolsAutoreconf, _ = f.boolean(KeyAutotoolsAutoreconf)
	if depth, ok := f.nonNegInt(KeyGitDepth); ok {
		pkg.GitDepth = &depth
	}
	pkg.GitRefspecs = f.strs(KeyGitRefspecs)
	pkg.GitSubmodules, _ = f.boolean(KeyGitSubmodules)
	pkg.GitConfig = f.strMap(KeyGitConfig)
	pkg.GitVerifyRevision, _ = f.boolean(KeyGitVerifyRevision)
	pkg.DevmodeIgnoreCache, _ = f.boolean(KeyDevmodeIgnoreCache)

	pkg.PythonInterpreter, _ = f.str(KeyPythonInterpreter)
	pkg.PythonSetupType = types.PythonSetupTypeSetuptools
	if value, ok := f.str(KeyPythonSetupType); ok {
		setupType, err := types.ParsePythonSetupType(value)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", name, err)
		}
		pkg.PythonSetupType = setupType
	}
	pkg.PythonInstallerScheme, _ = f.str(KeyPythonInstallerScheme)
	pkg.ExtOpt = f.dict(KeyExtOpt)

	if suffix, ok := noInstallKeys[pkg.Type]; ok {
		pkg.SkipInstall, _ = f.boolean(suffix)
	}

	buildSubdir, _ := f.str(KeyBuildSubdir)
	pkg.PatchSubdir, _ = f.str(KeyPatchSubdir)
	extension, _ := f.str(KeyExtension)
	if f.err != nil {
		return nil, fmt.Errorf("package %s: %w", name, f.err)
	}

	for _, dep := range pkg.DepNames {
		if dep == name {
			return nil, types.Errorf(types.ErrDependency, "package %s depends on itself", name)
		}
	}

	if err := l.resolvePaths(pkg, buildSubdir, extension); err != nil {
		return nil, err
	}
	return pkg, nil
}

var noInstallKeys = map[types.PackageType]string{
	types.PackageTypeCargo: KeyCargoNoInstall,
	types.PackageTypeCMake: KeyCMakeNoInstall,
	types.PackageTypeMake:  KeyMakeNoInstall,
	types.PackageTypeMeson: KeyMesonNoInstall,
	types.PackageTypeSCons: KeySConsNoInstall,
	types.PackageTypeWaf:   KeyWafNoInstall,
}

func (l *Loader) resolvePaths(pkg *Package, buildSubdir, extension string) error {
	opts := l.Opts

	base := filepath.Join(opts.BuildDir, pkg.Nv)
	pkg.BuildDir = base
	pkg.BuildOutputDir = base
	if pkg.Type == types.PackageTypeCMake {
		pkg.BuildOutputDir = filepath.Join(base, CMakeOutputDir)
	}

	switch {
	case pkg.VcsType == types.VcsTypeLocal:
		pkg.BuildDir = pkg.DefDir
	case pkg.Internal:
		if path, ok := opts.LocalSourcePath(pkg.Name); ok {
			pkg.LocalSrcs = true
			pkg.BuildDir = path
		}
	}

	if buildSubdir != "" {
		pkg.BuildSubdir = filepath.Join(pkg.BuildDir, buildSubdir)
	}

	pkg.CacheDir = filepath.Join(opts.CacheDir, pkg.Name)
	pkg.HashFile = filepath.Join(pkg.DefDir, pkg.Name+".hash")
	pkg.AscFile = filepath.Join(pkg.DefDir, pkg.Name+".asc")
	pkg.Flags = state.NewFlags(pkg.BuildOutputDir)

	ext, err := l.cacheExt(pkg, extension)
	if err != nil {
		return err
	}
	pkg.CacheExt = ext
	pkg.CacheFile = filepath.Join(opts.DlDir, pkg.Nv)
	if ext != "" {
		pkg.CacheFile += "." + ext
	}
	return nil
}

func (l *Loader) cacheExt(pkg *Package, extension string) (string, error) {
	switch pkg.VcsType {
	case types.VcsTypeNone, types.VcsTypeLocal, types.VcsTypeGit, types.VcsTypeHg:
		return "", nil
	case types.VcsTypeBrz, types.VcsTypeBzr, types.VcsTypeCvs, types.VcsTypeSvn, types.VcsTypePerforce,
		types.VcsTypeRsync:
		return "tgz", nil
	case types.VcsTypeFile:
		// local directories are archived when fetched
		if src, err := LocalPath(pkg.Site, pkg.DefDir); err == nil && utils.DirectoryExists(src) {
			return "tgz", nil
		}
	}

	if extension != "" {
		return strings.TrimPrefix(extension, "."), nil
	}

	if pkg.VcsType == types.VcsTypeURL && l.CacheExt != nil {
		value, err := l.CacheExt.Call(pkg.Site)
		if err != nil {
			return "", fmt.Errorf("package %s: cache extension hook: %w", pkg.Name, err)
		}
		switch ext := value.(type) {
		case nil:
		case string:
			if ext != "" {
				return strings.TrimPrefix(ext, "."), nil
			}
		default:
			return "", types.Errorf(types.ErrConfiguration,
				"package %s: cache extension hook returned %T", pkg.Name, value)
		}
	}

	return ArchiveExt(pkg.Site), nil
}
