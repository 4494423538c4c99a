package state_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func TestFlags_TouchAndExists(t *testing.T) {
	dir := t.TempDir()
	flags := state.NewFlags(dir)

	assert.False(t, flags.Exists(types.StageBuild))
	require.NoError(t, flags.Touch(types.StageBuild))
	assert.True(t, flags.Exists(types.StageBuild))

	_, err := os.Stat(filepath.Join(dir, ".stage_build"))
	require.NoError(t, err)

	// fetch stages are never flagged
	require.NoError(t, flags.Touch(types.StageFetch))
	assert.False(t, flags.Exists(types.StageFetch))
	assert.NoFileExists(t, filepath.Join(dir, ".stage_fetch"))
}

func TestFlags_PathsInsideOutputDir(t *testing.T) {
	dir := t.TempDir()
	flags := state.NewFlags(dir)

	paths := flags.Paths()
	assert.Len(t, paths, 8)
	for stage, path := range paths {
		assert.Equal(t, dir, filepath.Dir(path), "stage %s", stage)
	}
}

func TestFlags_Prune(t *testing.T) {
	tests := []struct {
		action  types.PkgAction
		removed []types.Stage
	}{
		{types.PkgActionRebuild, []types.Stage{types.StageBuild, types.StageInstall, types.StagePost}},
		{types.PkgActionRebuildOnly, []types.Stage{types.StageBuild, types.StageInstall, types.StagePost}},
		{types.PkgActionReinstall, []types.Stage{types.StageInstall, types.StagePost}},
		{types.PkgActionReconfigure, []types.Stage{
			types.StageBootstrap, types.StageConfigure, types.StageBuild,
			types.StageInstall, types.StagePost,
		}},
		{types.PkgActionBuild, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			flags := state.NewFlags(t.TempDir())
			for _, stage := range types.FlaggedStages {
				require.NoError(t, flags.Touch(stage))
			}

			_, err := flags.Prune(tt.action)
			require.NoError(t, err)

			removed := map[types.Stage]bool{}
			for _, stage := range tt.removed {
				removed[stage] = true
			}
			for _, stage := range types.FlaggedStages {
				assert.Equal(t, !removed[stage], flags.Exists(stage), "stage %s", stage)
			}
		})
	}
}

func TestModeFlags_Devmode(t *testing.T) {
	modes := state.NewModeFlags(t.TempDir())

	_, enabled, err := modes.Devmode()
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, modes.SetDevmode("nightly"))
	mode, enabled, err := modes.Devmode()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "nightly", mode)

	require.NoError(t, modes.ClearDevmode())
	_, enabled, err = modes.Devmode()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestModeFlags_LocalSources(t *testing.T) {
	modes := state.NewModeFlags(t.TempDir())

	srcs := map[string]string{"": "/work", "libfoo": "/src/libfoo", "libbar": ""}
	require.NoError(t, modes.SetLocalSources(srcs))

	loaded, enabled, err := modes.LocalSources()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, srcs, loaded)

	require.NoError(t, modes.Clear())
	assert.NoFileExists(t, modes.LocalSourcesPath())
}

func TestParseLocalSource(t *testing.T) {
	tests := []struct {
		value string
		pkg   string
		path  string
	}{
		{"", "", ""},
		{"/work/src", "", "/work/src"},
		{"libfoo:/work/libfoo", "libfoo", "/work/libfoo"},
		{"libfoo:", "libfoo", ""},
		{`C:\work\src`, "", `C:\work\src`},
	}

	for _, tt := range tests {
		pkg, path := state.ParseLocalSource(tt.value)
		assert.Equal(t, tt.pkg, pkg, tt.value)
		assert.Equal(t, tt.path, path, tt.value)
	}
}
