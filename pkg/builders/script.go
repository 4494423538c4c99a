package builders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// ScriptSuffixes are the file suffixes searched for stage scripts
var ScriptSuffixes = []string{".rt", ".releng", ""}

// RemoteScriptPrefix names stage scripts shipped inside package sources
const RemoteScriptPrefix = "releng"

// FindStageScript returns the definition script of a package for a stage
// ("<name>-<stage>") when one exists
func FindStageScript(pkg *packages.Package, stage types.Stage) (string, bool) {
	return findScript(pkg.DefDir, pkg.Name+"-"+string(stage))
}

// FindRemoteScript returns the stage script shipped in a package's sources
// ("releng-<stage>") when one exists
func FindRemoteScript(dir string, stage types.Stage) (string, bool) {
	return findScript(dir, RemoteScriptPrefix+"-"+string(stage))
}

func findScript(dir, base string) (string, bool) {
	for _, suffix := range ScriptSuffixes {
		path := filepath.Join(dir, base+suffix)
		if utils.FileExists(path) {
			return path, true
		}
	}
	return "", false
}

// Script builds packages through user-provided stage scripts
type Script struct{}

// Configure implements Builder
func (s Script) Configure(ctx context.Context, o *Options) error {
	return s.stage(ctx, o, types.StageConfigure)
}

// Build implements Builder
func (s Script) Build(ctx context.Context, o *Options) error {
	return s.stage(ctx, o, types.StageBuild)
}

// Install implements Builder
func (s Script) Install(ctx context.Context, o *Options) error {
	return s.stage(ctx, o, types.StageInstall)
}

func (Script) stage(ctx context.Context, o *Options, stage types.Stage) error {
	path, ok := FindStageScript(o.Pkg, stage)
	if !ok && !o.HasQuirk(types.QuirkDisableRemoteScripts) {
		path, ok = FindRemoteScript(o.Dir, stage)
	}
	if !ok {
		o.logger().Debug(fmt.Sprintf("no %s script", stage))
		return nil
	}
	return RunScript(ctx, o, path)
}

// RunScript evaluates a stage script from the builder directory
func RunScript(ctx context.Context, o *Options, path string) error {
	if o.Runner == nil {
		return fmt.Errorf("no script runner available for %s", path)
	}

	prev, err := os.Getwd()
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := os.Chdir(o.Dir); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to enter %s: %w", o.Dir, err))
	}
	defer func() {
		if err := os.Chdir(prev); err != nil {
			o.logger().Warn("unable to restore working directory", logger.WithField("error", err))
		}
	}()

	o.logger().Debug("running script " + path)
	if _, err := o.Runner.RunContext(ctx, path, o.ScriptEnv); err != nil {
		var exit *script.ExitError
		if errors.As(err, &exit) && exit.Code == 0 {
			return nil
		}
		return types.Wrap(types.ErrStage, err)
	}
	return nil
}

var _ Builder = Script{}
