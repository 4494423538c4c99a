package builders

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// PythonSchemeNT selects the Windows installation layout
const PythonSchemeNT = "nt"

// Python builds python packages, as wheels through a build backend or
// with a legacy setup script
type Python struct{}

func (Python) interpreter(o *Options) *tool.Tool {
	return tool.Interpreter(o.Pkg.PythonInterpreter)
}

func legacySetup(o *Options) bool {
	return o.Pkg.PythonSetupType == types.PythonSetupTypeDistutils
}

// Configure implements Builder. Configuration arguments are only used by
// legacy setup scripts.
func (p Python) Configure(ctx context.Context, o *Options) error {
	if !legacySetup(o) || (len(o.ConfDefs) == 0 && len(o.ConfOpts) == 0) {
		return nil
	}
	args := append([]string{"setup.py", "config"}, definitions("--", o.ConfDefs)...)
	args = append(args, o.ConfOpts...)
	return p.run(ctx, o, args, o.ConfEnv)
}

// Build implements Builder
func (p Python) Build(ctx context.Context, o *Options) error {
	var args []string
	if legacySetup(o) {
		args = []string{"setup.py", "build"}
	} else {
		args = []string{"-m", "build", "--no-isolation", "--wheel", "--outdir", "dist"}
	}
	args = append(args, definitions("--", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return p.run(ctx, o, args, o.BuildEnv)
}

// Install implements Builder
func (p Python) Install(ctx context.Context, o *Options) error {
	if legacySetup(o) {
		for _, dest := range o.DestDirs() {
			args := []string{"setup.py", "install", "--root=" + dest, "--prefix=" + o.Prefix}
			args = append(args, definitions("--", o.InstallDefs)...)
			args = append(args, o.InstallOpts...)
			if err := p.run(ctx, o, args, o.InstallEnv); err != nil {
				return err
			}
		}
		return nil
	}

	wheel, err := latestWheel(filepath.Join(o.Dir, "dist"))
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(o.BuildOutputDir, ".releng-python-")
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	defer utils.Remove(tmp)

	prefix := o.Prefix
	if prefix == "" {
		prefix = "/"
	}
	args := []string{"-m", "installer", "--destdir=" + tmp, "--prefix=" + prefix}
	args = append(args, definitions("--", o.InstallDefs)...)
	args = append(args, o.InstallOpts...)
	args = append(args, wheel)
	if err := p.run(ctx, o, args, o.InstallEnv); err != nil {
		return err
	}

	for _, dest := range o.DestDirs() {
		o.logger().Debug("copying python installation into " + dest)
		if err := utils.Copy(tmp, dest); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
	}
	return nil
}

func (p Python) run(ctx context.Context, o *Options, args []string, env map[string]string) error {
	interpreter := p.interpreter(o)
	paths := p.sitePackages(ctx, o, interpreter)
	if current := o.Env["PYTHONPATH"]; current != "" {
		paths = append(paths, current)
	}
	pathEnv := map[string]string{"PYTHONPATH": strings.Join(paths, string(os.PathListSeparator))}
	return o.run(ctx, interpreter, args, pathEnv, env)
}

// sitePackages returns the staging and target site-packages directories
// of the interpreter
func (Python) sitePackages(ctx context.Context, o *Options, interpreter *tool.Tool) []string {
	scheme := o.Pkg.PythonInstallerScheme
	if scheme == "" && runtime.GOOS == "windows" {
		scheme = PythonSchemeNT
	}

	var rel string
	if scheme == PythonSchemeNT {
		rel = filepath.Join("Lib", "site-packages")
	} else {
		version, err := interpreter.Output(ctx,
			[]string{"-c", "import sys; print('%d.%d' % sys.version_info[:2])"},
			&tool.Options{Log: o.logger()})
		if err != nil || version == "" {
			o.logger().Debug("unable to query python version", logger.WithField("error", err))
			return nil
		}
		rel = filepath.Join("lib", "python"+version, "site-packages")
	}

	var paths []string
	for _, dir := range []string{o.StagingDir, o.TargetDir} {
		if dir != "" {
			paths = append(paths, filepath.Join(o.PrefixedDir(dir), rel))
		}
	}
	return paths
}

func latestWheel(dist string) (string, error) {
	wheels, err := filepath.Glob(filepath.Join(dist, "*.whl"))
	if err != nil {
		return "", err
	}
	if len(wheels) == 0 {
		return "", types.Errorf(types.ErrStage, "no wheel was built in %s", dist)
	}

	sort.Slice(wheels, func(i, j int) bool {
		return modTime(wheels[i]) > modTime(wheels[j])
	})
	return wheels[0], nil
}

func modTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

var _ Builder = Python{}
