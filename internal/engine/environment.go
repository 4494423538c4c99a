package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Run flags exported as RELENG_<NAME>=1 when set
var runFlags = []string{
	"CLEAN", "DEBUG", "DEVMODE", "DISTCLEAN", "EXEC", "FORCE", "LOCALSRCS",
	"MRPROPER", "REBUILD", "RECONFIGURE", "REINSTALL", "VERBOSE",
}

// globalEnv computes the variables shared by every script and tool
func (e *Engine) globalEnv() map[string]string {
	o := e.opts
	env := map[string]string{
		"BUILD_DIR":      o.BuildDir,
		"CACHE_DIR":      o.CacheDir,
		"DL_DIR":         o.DlDir,
		"HOST_DIR":       o.HostDir,
		"IMAGES_DIR":     o.ImagesDir,
		"LICENSE_DIR":    o.LicenseDir,
		"NJOBS":          strconv.Itoa(o.Jobs),
		"NJOBSCONF":      strconv.Itoa(o.JobsConf),
		"OUTPUT_DIR":     o.OutDir,
		"PREFIX":         o.SysrootPrefix,
		"RELENG_VERSION": e.version,
		"ROOT_DIR":       o.RootDir,
		"STAGING_DIR":    o.StagingDir,
		"SYMBOLS_DIR":    o.SymbolsDir,
		"TARGET_DIR":     o.TargetDir,
	}

	sysroots := []struct{ name, dir string }{
		{"HOST", o.HostDir},
		{"STAGING", o.StagingDir},
		{"TARGET", o.TargetDir},
	}
	for _, root := range sysroots {
		prefixed := filepath.Join(root.dir, filepath.FromSlash(o.SysrootPrefix))
		env[root.name+"_BIN_DIR"] = filepath.Join(prefixed, "bin")
		env[root.name+"_INCLUDE_DIR"] = filepath.Join(prefixed, "include")
		env[root.name+"_LIB_DIR"] = filepath.Join(prefixed, "lib")
		env[root.name+"_SHARE_DIR"] = filepath.Join(prefixed, "share")
	}

	flags := e.runFlags()
	for _, name := range runFlags {
		if flags[name] {
			env["RELENG_"+name] = "1"
		}
	}
	if o.Devmode && o.DevmodeMode != "" {
		env["RELENG_DEVMODE"] = o.DevmodeMode
	}
	if len(o.Profiles) > 0 {
		env["RELENG_PROFILES"] = strings.Join(o.Profiles, ";")
	}
	if o.TargetPackage != "" {
		env["RELENG_TARGET_PKG"] = o.TargetPackage
	}

	for k, v := range o.InjectedKV {
		env[k] = v
	}
	return env
}

func (e *Engine) runFlags() map[string]bool {
	o := e.opts
	pkgAction := func(actions ...types.PkgAction) bool {
		if o.TargetPackage == "" {
			return false
		}
		for _, a := range actions {
			if o.TargetAction == a {
				return true
			}
		}
		return false
	}

	return map[string]bool{
		"CLEAN":       o.Action == types.GlobalActionClean || pkgAction(types.PkgActionClean),
		"DEBUG":       o.Debug,
		"DEVMODE":     o.Devmode,
		"DISTCLEAN":   o.Action == types.GlobalActionDistclean || pkgAction(types.PkgActionDistclean),
		"EXEC":        pkgAction(types.PkgActionExec),
		"FORCE":       o.Force,
		"LOCALSRCS":   o.LocalSourcesEnabled(),
		"MRPROPER":    o.Action == types.GlobalActionMrproper,
		"REBUILD":     pkgAction(types.PkgActionRebuild, types.PkgActionRebuildOnly),
		"RECONFIGURE": pkgAction(types.PkgActionReconfigure, types.PkgActionReconfigureOnly),
		"REINSTALL":   pkgAction(types.PkgActionReinstall),
		"VERBOSE":     o.Verbose || o.Debug,
	}
}

// exportEnvironment publishes the global variables into the process
// environment. Run flags which are not set are removed so values of a
// parent invocation never leak into this one.
func (e *Engine) exportEnvironment() error {
	env := e.globalEnv()
	for _, name := range runFlags {
		key := "RELENG_" + name
		if _, ok := env[key]; !ok {
			if err := os.Unsetenv(key); err != nil {
				return types.Wrap(types.ErrIO, err)
			}
		}
	}
	for _, key := range []string{"RELENG_PROFILES", "RELENG_TARGET_PKG"} {
		if _, ok := env[key]; !ok {
			_ = os.Unsetenv(key)
		}
	}

	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			return types.Wrap(types.ErrIO, fmt.Errorf("unable to export %s: %w", k, err))
		}
	}
	e.env = env
	return nil
}

// exportPackages publishes the prefixed variables of every loaded
// package so scripts of later packages can reference earlier ones
func (e *Engine) exportPackages(pkgs []*packages.Package) error {
	for _, pkg := range pkgs {
		prefix := packages.Normalize(pkg.Name)
		vars := map[string]string{
			prefix + "_BUILD_DIR":        pkg.BuildDir,
			prefix + "_BUILD_OUTPUT_DIR": pkg.BuildOutputDir,
			prefix + "_NAME":             pkg.Name,
			prefix + "_REVISION":         pkg.Revision,
			prefix + "_VERSION":          pkg.Version,
		}
		for k, v := range vars {
			if err := os.Setenv(k, v); err != nil {
				return types.Wrap(types.ErrIO, fmt.Errorf("unable to export %s: %w", k, err))
			}
			e.env[k] = v
		}
	}
	return nil
}

// packageEnv computes the variables specific to a package
func (e *Engine) packageEnv(pkg *packages.Package) map[string]string {
	prefix := e.opts.SysrootPrefix
	if pkg.HasPrefix {
		prefix = pkg.Prefix
	}
	jobs := e.opts.Jobs
	if pkg.FixedJobs > 0 {
		jobs = pkg.FixedJobs
	}

	env := map[string]string{
		"NJOBS":                strconv.Itoa(jobs),
		"NJOBSCONF":            strconv.Itoa(e.opts.JobsConf),
		"PKG_BUILD_BASE_DIR":   pkg.BuildDir,
		"PKG_BUILD_DIR":        pkg.WorkDir(),
		"PKG_BUILD_OUTPUT_DIR": pkg.BuildOutputDir,
		"PKG_CACHE_DIR":        pkg.CacheDir,
		"PKG_CACHE_FILE":       pkg.CacheFile,
		"PKG_DEFDIR":           pkg.DefDir,
		"PKG_NAME":             pkg.Name,
		"PKG_REVISION":         pkg.Revision,
		"PKG_SITE":             pkg.Site,
		"PKG_VERSION":          pkg.Version,
		"PREFIX":               prefix,
	}
	if e.opts.Devmode {
		env["PKG_DEVMODE"] = "1"
	}
	if pkg.Internal {
		env["PKG_INTERNAL"] = "1"
	}
	if pkg.LocalSrcs {
		env["PKG_LOCALSRCS"] = "1"
	}
	return env
}

// scriptEnv builds the globals of a script: the script namespace of the
// loaded project, then the global and any overlay variables
func (e *Engine) scriptEnv(overlays ...map[string]string) map[string]any {
	env := make(map[string]any, len(e.globals)+len(e.env))
	for k, v := range e.globals {
		env[k] = v
	}
	for k, v := range e.env {
		env[k] = v
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			env[k] = v
		}
	}

	args := make([]any, 0, len(e.opts.ForwardedArgs))
	for _, arg := range e.opts.ForwardedArgs {
		args = append(args, arg)
	}
	env["releng_args"] = args
	return env
}

// describeEnv renders the global variables for debug output
func describeEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+env[k])
	}
	return lines
}
