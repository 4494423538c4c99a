// Package builders provides the configure, build and install steps of each
// package type
package builders

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Builder runs the build stages of a package type
type Builder interface {
	Configure(ctx context.Context, opts *Options) error
	Build(ctx context.Context, opts *Options) error
	Install(ctx context.Context, opts *Options) error
}

// Options describe a package being built
type Options struct {
	Pkg  *packages.Package
	Opts *config.Options

	// Dir is the directory builders run in (build subdirectory or build
	// directory)
	Dir            string
	BuildOutputDir string
	Prefix         string

	HostDir     string
	StagingDir  string
	TargetDir   string
	ImagesDir   string
	InstallType types.InstallType

	ConfDefs    map[string]string
	ConfEnv     map[string]string
	ConfOpts    []string
	BuildDefs   map[string]string
	BuildEnv    map[string]string
	BuildOpts   []string
	InstallDefs map[string]string
	InstallEnv  map[string]string
	InstallOpts []string

	Jobs     int
	JobsConf int

	// Env is the package environment applied to every invocation
	Env map[string]string

	// Reconfigure is set when an existing configuration is being redone
	Reconfigure bool

	// Runner evaluates stage scripts with ScriptEnv as their globals
	Runner    *script.Runner
	ScriptEnv map[string]any

	// Packages lists every loaded package of the project
	Packages []*packages.Package

	Stdout io.Writer
	Log    logger.Logger
}

// NewOptions derives builder options for a package
func NewOptions(pkg *packages.Package, opts *config.Options) *Options {
	prefix := opts.SysrootPrefix
	if pkg.HasPrefix {
		prefix = pkg.Prefix
	}
	jobs := opts.Jobs
	if pkg.FixedJobs > 0 {
		jobs = pkg.FixedJobs
	}

	return &Options{
		Pkg:            pkg,
		Opts:           opts,
		Dir:            pkg.WorkDir(),
		BuildOutputDir: pkg.BuildOutputDir,
		Prefix:         prefix,
		HostDir:        opts.HostDir,
		StagingDir:     opts.StagingDir,
		TargetDir:      opts.TargetDir,
		ImagesDir:      opts.ImagesDir,
		InstallType:    pkg.InstallType,
		ConfDefs:       pkg.ConfDefs,
		ConfEnv:        pkg.ConfEnv,
		ConfOpts:       pkg.ConfOpts,
		BuildDefs:      pkg.BuildDefs,
		BuildEnv:       pkg.BuildEnv,
		BuildOpts:      pkg.BuildOpts,
		InstallDefs:    pkg.InstallDefs,
		InstallEnv:     pkg.InstallEnv,
		InstallOpts:    pkg.InstallOpts,
		Jobs:           jobs,
		JobsConf:       opts.JobsConf,
		Env:            map[string]string{},
	}
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

// DestDirs returns the sysroots an install is repeated into
func (o *Options) DestDirs() []string {
	switch o.InstallType {
	case types.InstallTypeHost:
		return []string{o.HostDir}
	case types.InstallTypeImages:
		return []string{o.ImagesDir}
	case types.InstallTypeStaging:
		return []string{o.StagingDir}
	case types.InstallTypeStagingAndTarget:
		return []string{o.StagingDir, o.TargetDir}
	default:
		return []string{o.TargetDir}
	}
}

// PrefixedDir joins a sysroot with the install prefix
func (o *Options) PrefixedDir(root string) string {
	return filepath.Join(root, filepath.FromSlash(o.Prefix))
}

// environ merges the package environment with stage specific variables
func (o *Options) environ(overlays ...map[string]string) map[string]string {
	env := make(map[string]string, len(o.Env))
	for k, v := range o.Env {
		env[k] = v
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			env[k] = v
		}
	}
	return env
}

// run invokes a tool in the builder directory
func (o *Options) run(ctx context.Context, t *tool.Tool, args []string, env ...map[string]string) error {
	return o.runIn(ctx, o.Dir, t, args, env...)
}

func (o *Options) runIn(ctx context.Context, dir string, t *tool.Tool, args []string, env ...map[string]string) error {
	return t.Execute(ctx, args, &tool.Options{
		Dir:     dir,
		Env:     o.environ(env...),
		Stdout:  o.Stdout,
		Log:     o.logger(),
		LogArgs: o.HasQuirk(types.QuirkLogExecuteArgs),
		LogEnv:  o.HasQuirk(types.QuirkLogExecuteEnv),
	})
}

// jobsArg renders a "-j<n>" style argument, or nothing for a single job
func (o *Options) jobsArg(flag string) []string {
	if o.Jobs <= 1 {
		return nil
	}
	return []string{flag + strconv.Itoa(o.Jobs)}
}

// definitions renders KEY=VALUE arguments sorted by key. A definition
// without a value renders as the bare key.
func definitions(prefix string, defs map[string]string) []string {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		if defs[k] == "" {
			args = append(args, prefix+k)
			continue
		}
		args = append(args, prefix+k+"="+defs[k])
	}
	return args
}

// Stage runs a single builder step. Packages flagged to skip installation
// complete the install stage without invoking the builder.
func Stage(ctx context.Context, b Builder, stage types.Stage, o *Options) error {
	var err error
	switch stage {
	case types.StageConfigure:
		err = b.Configure(ctx, o)
	case types.StageBuild:
		err = b.Build(ctx, o)
	case types.StageInstall:
		if o.Pkg.SkipInstall {
			o.logger().Verbose("skipping install stage")
			return nil
		}
		for _, dir := range o.DestDirs() {
			if err := utils.EnsureDirectory(dir); err != nil {
				return types.Wrap(types.ErrIO, err)
			}
		}
		err = b.Install(ctx, o)
	default:
		return fmt.Errorf("builders do not implement stage %s", stage)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return types.Wrap(types.ErrUserAbort, ctx.Err())
	}
	if types.KindOf(err) == nil {
		err = types.Wrap(types.ErrStage, err)
	}
	return fmt.Errorf("package %s: %s stage failed: %w", o.Pkg.Name, stage, err)
}
