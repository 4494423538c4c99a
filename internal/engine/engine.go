// Package engine drives a project through the package pipeline.
// The implementation is split across multiple files:
// - engine.go: engine construction, project loading and action dispatch
// - factory.go: dependency injection factory
// - schedule.go: packages and stages selected by an action
// - pipeline.go: per-package stage state machine
// - fetch.go: source acquisition and cache verification
// - environment.go: variables exported to scripts and tools
// - actions.go: clean, exec and init actions
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/builders"
	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/extract"
	"github.com/releng-tool/releng-tool-sub001/pkg/fetch"
	"github.com/releng-tool/releng-tool-sub001/pkg/license"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/sbom"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Engine runs the actions of a project
type Engine struct {
	opts    *config.Options
	log     logger.Logger
	version string
	deps    Dependencies

	// Stdout receives the output of invoked tools and scripts (process
	// stdout when nil)
	Stdout io.Writer

	// Shutdown receives cleanups of scratch state to run on interruption
	Shutdown ShutdownRegistry

	project  *config.ProjectConfig
	licenses *license.Manager
	pkgs     []*packages.Package
	env      map[string]string
	globals  map[string]any
}

// ShutdownRegistry collects handlers run when the process is interrupted
type ShutdownRegistry interface {
	RegisterShutdownHandler(handler func())
}

// New creates an engine for resolved options
func New(opts *config.Options, log logger.Logger, version string, deps Dependencies) *Engine {
	if log == nil {
		log = logger.Discard()
	}

	// Validate required dependencies
	if deps.Fetchers == nil {
		panic("Fetchers dependency is required")
	}
	if deps.Extractors == nil {
		panic("Extractors dependency is required")
	}
	if deps.Builders == nil {
		panic("Builders dependency is required")
	}
	if deps.Runner == nil {
		panic("Runner dependency is required")
	}
	if deps.Prerequisites == nil {
		panic("Prerequisites dependency is required")
	}

	return &Engine{
		opts:    opts,
		log:     log,
		version: version,
		deps:    deps,
		env:     map[string]string{},
	}
}

// Packages returns the loaded packages in processing order
func (e *Engine) Packages() []*packages.Package {
	return e.pkgs
}

// Project returns the loaded project configuration
func (e *Engine) Project() *config.ProjectConfig {
	return e.project
}

// Run performs the configured action
func (e *Engine) Run(ctx context.Context) error {
	for _, line := range e.opts.Summary() {
		e.log.Debug(line)
	}

	switch e.opts.Action {
	case types.GlobalActionInit:
		return e.initialize()
	case types.GlobalActionClean, types.GlobalActionDistclean, types.GlobalActionMrproper:
		return e.clean(e.opts.Action)
	}

	if err := e.load(ctx); err != nil {
		return err
	}
	if err := e.dispatch(ctx); err != nil {
		return err
	}
	return e.checkWarnings()
}

// load evaluates the project and package scripts, orders the packages and
// verifies the host has the tools they need
func (e *Engine) load(ctx context.Context) error {
	if err := e.exportEnvironment(); err != nil {
		return err
	}

	path, err := config.FindProjectScript(e.opts.RootDir, e.opts.ConfigFile)
	if err != nil {
		return err
	}
	e.log.Debug("loading project " + path)

	var project *config.ProjectConfig
	err = inDir(e.opts.RootDir, func() error {
		project, err = config.LoadProject(ctx, e.deps.Runner, path, e.scriptEnv())
		return err
	})
	if err != nil {
		return err
	}
	e.opts.Apply(project)
	if len(e.opts.SbomFormats) == 0 {
		e.opts.SbomFormats = project.SbomFormats
	}
	e.project = project
	e.globals = project.Globals
	e.licenses = license.NewManager(e.opts.LicenseDir, project.LicenseHeader, e.log)

	vcsTypes, pkgTypes, err := e.extensionTypes()
	if err != nil {
		return err
	}
	// the project may relocate the sysroot prefix
	if err := e.exportEnvironment(); err != nil {
		return err
	}
	for _, line := range describeEnv(e.env) {
		e.log.Debug(line)
	}

	if e.opts.Action != types.GlobalActionSbom && len(e.opts.Prerequisites) > 0 {
		if err := e.deps.Prerequisites.Check(ctx, nil); err != nil {
			return err
		}
	}

	loader := packages.NewLoader(e.opts, e.deps.Runner, e.log)
	loader.CacheExt = project.CacheExt
	loader.ExtensionVcsTypes = vcsTypes
	loader.ExtensionPackageTypes = pkgTypes

	var loaded []*packages.Package
	var globals map[string]any
	err = inDir(e.opts.RootDir, func() error {
		loaded, globals, err = packages.NewManager(loader).LoadAll(ctx, project.Packages, e.scriptEnv())
		return err
	})
	if err != nil {
		return err
	}

	sorted, err := packages.NewSorter().Sort(loaded)
	if err != nil {
		return err
	}
	e.pkgs = sorted
	e.globals = globals
	for _, pkg := range sorted {
		e.log.Debug("loaded " + packages.Describe(pkg))
	}
	if err := e.exportPackages(sorted); err != nil {
		return err
	}

	if e.opts.Action == types.GlobalActionSbom {
		return nil
	}
	return e.deps.Prerequisites.Check(ctx, sorted)
}

// extensionTypes validates the project extensions against the registered
// extension fetchers, extractors and builders, returning the vcs and
// package types they provide
func (e *Engine) extensionTypes() (map[string]bool, map[string]bool, error) {
	vcsTypes := map[string]bool{}
	pkgTypes := map[string]bool{}

	var unknown []string
	for _, name := range e.opts.Extensions {
		name = strings.TrimPrefix(name, fetch.ExtensionPrefix)
		key := fetch.ExtensionPrefix + name
		found := false
		if _, ok := e.deps.Fetchers.For(types.VcsType(key)); ok {
			vcsTypes[key] = true
			found = true
		}
		if e.deps.Builders.Has(name) {
			pkgTypes[key] = true
			found = true
		}
		if e.deps.Extractors.Has(extract.ExtensionPrefix + name) {
			found = true
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, types.Errorf(types.ErrConfiguration, "unknown extension(s): %s",
			strings.Join(unknown, ", "))
	}
	return vcsTypes, pkgTypes, nil
}

// dispatch runs the pipeline selected by the action
func (e *Engine) dispatch(ctx context.Context) error {
	var target *packages.Package
	if e.opts.TargetPackage != "" {
		pkg, err := packages.Lookup(e.pkgs, e.opts.TargetPackage)
		if err != nil {
			return err
		}
		target = pkg

		switch e.opts.TargetAction {
		case types.PkgActionClean:
			return e.cleanPackage(pkg, false)
		case types.PkgActionDistclean:
			return e.cleanPackage(pkg, true)
		case types.PkgActionFresh:
			if err := e.fresh(pkg); err != nil {
				return err
			}
		default:
			cleared, err := pkg.Flags.Prune(e.opts.TargetAction)
			if err != nil {
				return err
			}
			if len(cleared) > 0 {
				e.log.WithPackage(pkg.Name).Verbose(fmt.Sprintf("cleared %d stage flag(s)", len(cleared)))
			}
		}
	}

	if e.opts.Action == types.GlobalActionSbom {
		return e.writeSbom(e.opts.SbomFormats)
	}

	for _, j := range schedule(e.pkgs, e.opts.Action, target, e.opts.TargetAction) {
		if err := e.process(ctx, j); err != nil {
			return err
		}
		if err := e.checkWarnings(); err != nil {
			return err
		}
	}

	switch {
	case target != nil && e.opts.TargetAction == types.PkgActionExec:
		return e.exec(ctx, target)

	case target == nil && e.opts.Action == types.GlobalActionLicenses:
		_, err := e.licenses.Generate(e.pkgs)
		return err

	case target == nil && (e.opts.Action == types.GlobalActionNone || e.opts.Action == types.GlobalActionPunch):
		return e.finish(ctx)
	}
	return nil
}

// finish completes a full run: the license report, any configured bill of
// materials and the project's post-processing script
func (e *Engine) finish(ctx context.Context) error {
	for _, pkg := range e.pkgs {
		if len(pkg.LicenseFiles) > 0 {
			if _, err := e.licenses.Generate(e.pkgs); err != nil {
				return err
			}
			break
		}
	}

	if len(e.opts.SbomFormats) > 0 {
		if err := e.writeSbom(e.opts.SbomFormats); err != nil {
			return err
		}
	}

	if path, ok := config.FindPostScript(e.opts.RootDir); ok {
		e.log.Info("post-processing")
		o := &builders.Options{
			Opts:      e.opts,
			Dir:       e.opts.RootDir,
			Runner:    e.deps.Runner,
			ScriptEnv: e.scriptEnv(),
			Stdout:    e.Stdout,
			Log:       e.log,
		}
		if err := builders.RunScript(ctx, o, path); err != nil {
			return fmt.Errorf("post-processing failed: %w", err)
		}
	}

	e.log.Success("completed")
	return nil
}

func (e *Engine) writeSbom(values []string) error {
	formats, err := sbom.ParseFormats(values)
	if err != nil {
		return err
	}
	_, err = sbom.NewGenerator(e.opts.OutDir, e.version, e.log).Write(e.pkgs, formats)
	return err
}

// checkWarnings fails the run once a warning was reported with werror set
func (e *Engine) checkWarnings() error {
	if e.opts.Werror && e.log.Warned() {
		return types.Errorf(types.ErrStage, "warnings were reported and warnings are treated as errors")
	}
	return nil
}

func (e *Engine) punch() bool {
	return e.opts.Action == types.GlobalActionPunch
}

// inDir runs fn with the process working directory set to dir; script
// helpers resolve relative paths against it
func inDir(dir string, fn func() error) error {
	prev, err := os.Getwd()
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := os.Chdir(dir); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to enter %s: %w", dir, err))
	}
	defer os.Chdir(prev) //nolint:errcheck
	return fn()
}
