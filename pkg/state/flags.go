// Package state tracks stage completion and project mode flags on disk
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// FlagPrefix is the file name prefix of every stage flag
const FlagPrefix = ".stage_"

// Flags is the stage flag store of a single package. Each flagged stage is
// represented by an empty marker file inside the package's build output
// directory; its presence asserts the stage succeeded.
type Flags struct {
	dir string
}

// NewFlags creates a flag store rooted at a build output directory
func NewFlags(buildOutputDir string) *Flags {
	return &Flags{dir: buildOutputDir}
}

// Dir returns the directory holding the flag files
func (f *Flags) Dir() string {
	return f.dir
}

// Path returns the marker file for a stage
func (f *Flags) Path(stage types.Stage) string {
	return filepath.Join(f.dir, FlagPrefix+string(stage))
}

// Paths returns the marker file of every flagged stage
func (f *Flags) Paths() map[types.Stage]string {
	paths := make(map[types.Stage]string, len(types.FlaggedStages))
	for _, stage := range types.FlaggedStages {
		paths[stage] = f.Path(stage)
	}
	return paths
}

// Exists reports whether the stage has completed
func (f *Flags) Exists(stage types.Stage) bool {
	if !stage.Flagged() {
		return false
	}
	return utils.FileExists(f.Path(stage))
}

// Touch records completion of a stage
func (f *Flags) Touch(stage types.Stage) error {
	if !stage.Flagged() {
		return nil
	}
	if err := utils.Touch(f.Path(stage)); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to write %s flag: %w", stage, err))
	}
	return nil
}

// Remove deletes the flags of the provided stages
func (f *Flags) Remove(stages ...types.Stage) error {
	for _, stage := range stages {
		if !stage.Flagged() {
			continue
		}
		if err := os.Remove(f.Path(stage)); err != nil && !os.IsNotExist(err) {
			return types.Wrap(types.ErrIO, fmt.Errorf("unable to remove %s flag: %w", stage, err))
		}
	}
	return nil
}

// Prune removes the flags invalidated by a package action, returning the
// stages whose flags were cleared
func (f *Flags) Prune(action types.PkgAction) ([]types.Stage, error) {
	stages := InvalidatedStages(action)
	if len(stages) == 0 {
		return nil, nil
	}
	return stages, f.Remove(stages...)
}

// InvalidatedStages returns the flagged stages a package action resets
func InvalidatedStages(action types.PkgAction) []types.Stage {
	switch action {
	case types.PkgActionRebuild, types.PkgActionRebuildOnly:
		return []types.Stage{types.StageBuild, types.StageInstall, types.StagePost}
	case types.PkgActionReconfigure, types.PkgActionReconfigureOnly:
		return []types.Stage{
			types.StageBootstrap, types.StageConfigure, types.StageBuild,
			types.StageInstall, types.StagePost,
		}
	case types.PkgActionReinstall:
		return []types.Stage{types.StageInstall, types.StagePost}
	default:
		return nil
	}
}
