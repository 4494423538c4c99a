package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// clean removes output of a global clean action. clean keeps the images
// and every download; mrproper removes the whole output directory and the
// mode flags; distclean additionally removes the cache and dl directories.
func (e *Engine) clean(action types.GlobalAction) error {
	o := e.opts
	var targets []string
	switch action {
	case types.GlobalActionClean:
		targets = []string{o.BuildDir, o.HostDir, o.LicenseDir, o.StagingDir, o.SymbolsDir, o.TargetDir}
	case types.GlobalActionMrproper:
		targets = []string{o.OutDir}
	case types.GlobalActionDistclean:
		targets = []string{o.OutDir, o.CacheDir, o.DlDir}
	}

	for _, dir := range targets {
		if dir == "" || dir == o.RootDir {
			continue
		}
		if !utils.PathExists(dir) {
			continue
		}
		e.log.Verbose("removing " + dir)
		if err := utils.Remove(dir); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
	}

	if action != types.GlobalActionClean {
		if err := state.NewModeFlags(o.RootDir).Clear(); err != nil {
			return err
		}
	}
	e.log.Success(fmt.Sprintf("%s completed", action))
	return nil
}

// cleanPackage removes the build output of a package; distclean also
// drops its download cache and gathered licenses
func (e *Engine) cleanPackage(pkg *packages.Package, distclean bool) error {
	log := e.log.WithPackage(pkg.Name)

	targets := []string{filepath.Join(e.opts.BuildDir, pkg.Nv)}
	if distclean {
		targets = append(targets, pkg.CacheFile, pkg.CacheDir, e.licenses.PackageDir(pkg))
	}
	for _, path := range targets {
		if !utils.PathExists(path) {
			continue
		}
		log.Verbose("removing " + path)
		if err := utils.Remove(path); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
	}
	log.Success("cleaned " + pkg.Nv)
	return nil
}

// fresh removes the build output directory so every flagged stage runs
func (e *Engine) fresh(pkg *packages.Package) error {
	if err := utils.Remove(pkg.BuildOutputDir); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if !pkg.LocalSrcs && pkg.VcsType != types.VcsTypeLocal {
		if err := utils.Remove(pkg.BuildDir); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
	}
	return nil
}

// exec runs the forwarded command inside the package's build directory
// with the package environment
func (e *Engine) exec(ctx context.Context, pkg *packages.Package) error {
	args := e.opts.ForwardedArgs
	if len(args) == 0 {
		return types.Errorf(types.ErrConfiguration, "%s-exec requires a command after --", pkg.Name)
	}
	dir := pkg.WorkDir()
	if !utils.DirectoryExists(dir) {
		return types.Errorf(types.ErrStage, "package %s: build directory %s does not exist", pkg.Name, dir)
	}

	log := e.log.WithPackage(pkg.Name)
	log.Info(fmt.Sprintf("executing in %s", dir), logger.WithField("command", args[0]))
	err := tool.New(args[0]).Execute(ctx, args[1:], &tool.Options{
		Dir:    dir,
		Env:    e.packageEnv(pkg),
		Stdout: e.Stdout,
		Log:    log,
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.Wrap(types.ErrUserAbort, ctx.Err())
		}
		return types.Wrap(types.ErrStage, fmt.Errorf("package %s: exec failed: %w", pkg.Name, err))
	}
	return nil
}

const projectTemplate = `packages = [
    'sample',
]
`

const sampleTemplate = `SAMPLE_DEPENDENCIES = []
SAMPLE_INSTALL_TYPE = 'target'
SAMPLE_TYPE = 'script'
SAMPLE_VCS_TYPE = 'none'
SAMPLE_VERSION = '0.0.0'
`

const sampleBuildTemplate = `note('building sample (in ' + PKG_BUILD_DIR + ')')
`

// initialize writes a project skeleton into an empty root
func (e *Engine) initialize() error {
	root := e.opts.RootDir
	for _, name := range config.ProjectScripts {
		if utils.FileExists(filepath.Join(root, name)) {
			return types.Errorf(types.ErrConfiguration, "project already initialized: %s",
				filepath.Join(root, name))
		}
	}

	sample := filepath.Join(e.opts.PackageDir(), "sample")
	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(root, config.ProjectScripts[0]), projectTemplate},
		{filepath.Join(sample, "sample.rt"), sampleTemplate},
		{filepath.Join(sample, "sample-build.rt"), sampleBuildTemplate},
	}
	for _, f := range files {
		if utils.PathExists(f.path) {
			return types.Errorf(types.ErrConfiguration, "refusing to overwrite %s", f.path)
		}
		if err := utils.EnsureDirectory(filepath.Dir(f.path)); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
		if err := renameio.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return types.Wrap(types.ErrIO, fmt.Errorf("unable to write %s: %w", f.path, err))
		}
		e.log.Verbose("wrote " + f.path)
	}
	e.log.Success("initialized project in " + root)
	return nil
}
