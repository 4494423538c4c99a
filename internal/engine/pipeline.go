package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/releng-tool/releng-tool-sub001/pkg/builders"
	"github.com/releng-tool/releng-tool-sub001/pkg/extract"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

var stageMessages = map[types.Stage]string{
	types.StageFetch:     "fetching",
	types.StageFetchPost: "post-fetching",
	types.StageExtract:   "extracting",
	types.StagePatch:     "patching",
	types.StageLicense:   "gathering licenses of",
	types.StageBootstrap: "bootstrapping",
	types.StageConfigure: "configuring",
	types.StageBuild:     "building",
	types.StageInstall:   "installing",
	types.StagePost:      "post-processing",
}

// pkgRun is the processing state of a single package
type pkgRun struct {
	pkg     *packages.Package
	log     logger.Logger
	env     map[string]string
	builder *builders.Options
}

func (e *Engine) newPkgRun(pkg *packages.Package, reconfigure bool) *pkgRun {
	log := e.log.WithPackage(pkg.Name)
	env := e.packageEnv(pkg)

	bo := builders.NewOptions(pkg, e.opts)
	bo.Env = env
	bo.Reconfigure = reconfigure
	bo.Runner = e.deps.Runner
	bo.ScriptEnv = e.scriptEnv(env)
	bo.Packages = e.pkgs
	bo.Stdout = e.Stdout
	bo.Log = log

	return &pkgRun{pkg: pkg, log: log, env: env, builder: bo}
}

// process runs the stages of a package up to and including last. Stages
// whose flag exists are skipped unless the run is forced; a flag is only
// written once its stage succeeds.
func (e *Engine) process(ctx context.Context, j job) error {
	pkg := j.pkg
	reconfigure := j.target && (e.opts.TargetAction == types.PkgActionReconfigure ||
		e.opts.TargetAction == types.PkgActionReconfigureOnly)
	r := e.newPkgRun(pkg, reconfigure)
	r.log.Debug("processing " + packages.Describe(pkg))

	for _, stage := range types.Stages {
		if stage.Index() > j.last.Index() {
			break
		}
		if err := ctx.Err(); err != nil {
			return types.Wrap(types.ErrUserAbort, err)
		}

		if stage.Flagged() && pkg.Flags.Exists(stage) && !e.punch() {
			r.log.Debug(fmt.Sprintf("%s stage already complete", stage))
			continue
		}

		if err := e.runStage(ctx, r, stage); err != nil {
			return err
		}
		if err := pkg.Flags.Touch(stage); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, r *pkgRun, stage types.Stage) error {
	pkg := r.pkg
	switch stage {
	case types.StageFetch, types.StageFetchPost:
		// sources already extracted need no acquisition
		if pkg.Flags.Exists(types.StageExtract) && !e.punch() {
			return nil
		}
	}

	if msg, ok := stageMessages[stage]; ok && e.stageApplies(pkg, stage) {
		r.log.Info(fmt.Sprintf("%s %s", msg, pkg.Nv))
	}

	switch stage {
	case types.StageFetch:
		return e.fetch(ctx, r)

	case types.StageFetchPost:
		hook := *r.builder
		hook.Dir = pkg.DefDir
		return e.hook(ctx, r, &hook, stage)

	case types.StageExtract:
		return e.extract(ctx, r)

	case types.StagePatch:
		return e.patch(ctx, r)

	case types.StageLicense:
		if _, err := e.licenses.Gather(pkg); err != nil {
			return fmt.Errorf("package %s: %w", pkg.Name, err)
		}
		return nil

	case types.StageBootstrap, types.StagePost:
		return e.hook(ctx, r, r.builder, stage)

	case types.StageConfigure, types.StageBuild, types.StageInstall:
		b, err := e.deps.Builders.For(pkg.Type)
		if err != nil {
			return err
		}
		return builders.Stage(ctx, b, stage, r.builder)
	}
	return types.Errorf(types.ErrStage, "unknown stage %s", stage)
}

// stageApplies reports whether a stage performs work worth announcing
func (e *Engine) stageApplies(pkg *packages.Package, stage types.Stage) bool {
	switch stage {
	case types.StageFetch, types.StageExtract:
		return pkg.NeedsFetch()
	case types.StageFetchPost, types.StageBootstrap, types.StagePost:
		_, ok := builders.FindStageScript(pkg, stage)
		return ok
	case types.StagePatch:
		patches, _ := patchFiles(pkg)
		return len(patches) > 0 && !pkg.LocalSrcs
	case types.StageLicense:
		return len(pkg.LicenseFiles) > 0
	}
	return true
}

// hook evaluates the optional stage script of a package
func (e *Engine) hook(ctx context.Context, r *pkgRun, o *builders.Options, stage types.Stage) error {
	path, ok := builders.FindStageScript(r.pkg, stage)
	if !ok {
		return nil
	}
	if err := builders.RunScript(ctx, o, path); err != nil {
		return fmt.Errorf("package %s: %s stage failed: %w", r.pkg.Name, stage, err)
	}
	return nil
}

func (e *Engine) extract(ctx context.Context, r *pkgRun) error {
	pkg := r.pkg
	switch {
	case pkg.LocalSrcs:
		if !utils.DirectoryExists(pkg.BuildDir) {
			return types.Errorf(types.ErrSourceAcquisition,
				"package %s: local sources missing at %s", pkg.Name, pkg.BuildDir)
		}
		r.log.Verbose("using local sources " + pkg.BuildDir)

	case pkg.VcsType == types.VcsTypeLocal:
		if !utils.DirectoryExists(pkg.BuildDir) {
			return types.Errorf(types.ErrSourceAcquisition,
				"package %s: missing local sources in %s", pkg.Name, pkg.BuildDir)
		}

	case !pkg.NeedsFetch() || pkg.NoExtraction:
		if err := utils.EnsureDirectory(pkg.BuildDir); err != nil {
			return types.Wrap(types.ErrIO, err)
		}

	default:
		source := pkg.CacheFile
		if pkg.VcsType.IsDVCS() {
			source = pkg.CacheDir
		}
		if !utils.PathExists(source) {
			return types.Errorf(types.ErrExtraction,
				"package %s: no cached sources at %s (fetch the package first)", pkg.Name, source)
		}
		err := extract.Stage(ctx, e.deps.Extractors, &extract.Options{
			Pkg:    pkg,
			Opts:   e.opts,
			Source: source,
			Env:    r.env,
			Log:    r.log,
		})
		if err != nil {
			return err
		}
	}

	if err := utils.EnsureDirectory(pkg.BuildOutputDir); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	return nil
}

// patchFiles lists the patches shipped with a package definition
func patchFiles(pkg *packages.Package) ([]string, error) {
	patches, err := filepath.Glob(filepath.Join(pkg.DefDir, "*.patch"))
	if err != nil {
		return nil, err
	}
	sort.Strings(patches)
	return patches, nil
}

func (e *Engine) patch(ctx context.Context, r *pkgRun) error {
	pkg := r.pkg
	if pkg.LocalSrcs {
		r.log.Verbose("skipping patches for local sources")
		return nil
	}

	patches, err := patchFiles(pkg)
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if len(patches) == 0 {
		return nil
	}
	if !tool.Patch.Exists() {
		return types.Errorf(types.ErrPrerequisite, "package %s: patch is required to apply %d patch(es)",
			pkg.Name, len(patches))
	}

	dir := pkg.BuildDir
	if pkg.PatchSubdir != "" {
		dir = filepath.Join(pkg.BuildDir, pkg.PatchSubdir)
	}
	for _, p := range patches {
		r.log.Verbose("applying patch " + filepath.Base(p))
		args := []string{"--batch", "--forward", "-p1", "-d", dir, "-i", p}
		if !e.opts.HasQuirk(types.QuirkDisableVerbosePatch) {
			args = append([]string{"--verbose"}, args...)
		}
		err := tool.Patch.Execute(ctx, args, &tool.Options{
			Env:     r.env,
			Stdout:  e.Stdout,
			Log:     r.log,
			LogArgs: e.opts.HasQuirk(types.QuirkLogExecuteArgs),
			LogEnv:  e.opts.HasQuirk(types.QuirkLogExecuteEnv),
		})
		if err != nil {
			if ctx.Err() != nil {
				return types.Wrap(types.ErrUserAbort, ctx.Err())
			}
			return types.Wrap(types.ErrStage, fmt.Errorf("package %s: failed to apply patch %s: %w",
				pkg.Name, filepath.Base(p), err))
		}
	}
	return nil
}
