package cli_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/cli"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		dash      int
		relaxed   bool
		action    types.GlobalAction
		pkg       string
		pkgAction types.PkgAction
		injected  map[string]string
		forwarded []string
		wantErr   bool
	}{
		{name: "no action", args: nil, dash: -1, injected: map[string]string{}},
		{name: "global action", args: []string{"fetch"}, dash: -1, action: types.GlobalActionFetch,
			injected: map[string]string{}},
		{name: "global action case", args: []string{"DistClean"}, dash: -1, action: types.GlobalActionDistclean,
			injected: map[string]string{}},
		{name: "package", args: []string{"libfoo"}, dash: -1, pkg: "libfoo", injected: map[string]string{}},
		{name: "package action", args: []string{"libfoo-rebuild"}, dash: -1, pkg: "libfoo",
			pkgAction: types.PkgActionRebuild, injected: map[string]string{}},
		{name: "package only action", args: []string{"lib-foo-reconfigure-only"}, dash: -1, pkg: "lib-foo",
			pkgAction: types.PkgActionReconfigureOnly, injected: map[string]string{}},
		{name: "injections", args: []string{"A=1", "clean", "B=x=y"}, dash: -1, action: types.GlobalActionClean,
			injected: map[string]string{"A": "1", "B": "x=y"}},
		{name: "forwarded", args: []string{"app-exec", "ls", "-la"}, dash: 1, pkg: "app",
			pkgAction: types.PkgActionExec, injected: map[string]string{}, forwarded: []string{"ls", "-la"}},
		{name: "multiple actions", args: []string{"fetch", "extract"}, dash: -1, wantErr: true},
		{name: "multiple actions relaxed", args: []string{"fetch", "extract"}, dash: -1, relaxed: true,
			action: types.GlobalActionFetch, injected: map[string]string{}},
		{name: "invalid key", args: []string{"1A=2"}, dash: -1, wantErr: true},
		{name: "empty key", args: []string{"=2"}, dash: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := cli.ParseArguments(tt.args, tt.dash, tt.relaxed, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, parsed.Action)
			assert.Equal(t, tt.pkg, parsed.TargetPackage)
			assert.Equal(t, tt.pkgAction, parsed.TargetAction)
			assert.Equal(t, tt.injected, parsed.Injected)
			assert.Equal(t, tt.forwarded, parsed.Forwarded)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, cli.ExitCode(nil))
	assert.Equal(t, 1, cli.ExitCode(errors.New("failure")))
	assert.Equal(t, 3, cli.ExitCode(&script.ExitError{Code: 3}))
	assert.Equal(t, 0, cli.ExitCode(&script.ExitError{Code: 0}))
	assert.Equal(t, 1, cli.ExitCode(types.Errorf(types.ErrStage, "stage failed")))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cfg := cli.NewConfig()
	cfg.Version = "1.2.3"
	err := cli.NewCLIWithOutput(cfg, &out, &errOut).Execute(args)
	return out.String() + errOut.String(), err
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestExecute_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "releng-tool 1.2.3\n", out)
}

func TestExecute_InitAndRun(t *testing.T) {
	root := t.TempDir()

	out, err := execute(t, "--root-dir", root, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized project")
	assert.FileExists(t, filepath.Join(root, "releng-tool.rt"))

	out, err = execute(t, "--root-dir", root, "--nocolorout")
	require.NoError(t, err)
	assert.Contains(t, out, "building sample")
	assert.FileExists(t, filepath.Join(root, "output", "build", "sample-0.0.0", state.FlagPrefix+"install"))

	out, err = execute(t, "--root-dir", root, "init")
	require.Error(t, err)
	assert.Contains(t, out, "error: ")
}

func TestExecute_InjectedAndForwardedArguments(t *testing.T) {
	root := writeProject(t, map[string]string{
		"releng-tool.rt": `packages = ['app']
if releng_env('RELENG_CLI_TEST_KEY') != 'hello':
    fail('missing injected value')
if RELENG_CLI_TEST_KEY != 'hello':
    fail('missing injected global')
if releng_args != ['one', 'two']:
    fail('unexpected arguments')
`,
		"package/app/app.rt": "APP_VERSION = '1.0'\nAPP_VCS_TYPE = 'none'\n",
	})

	_, err := execute(t, "--root-dir", root, "RELENG_CLI_TEST_KEY=hello", "--", "one", "two")
	require.NoError(t, err)

	_, err = execute(t, "--root-dir", root, "RELENG_CLI_TEST_KEY=other", "--", "one", "two")
	require.Error(t, err)
}

func TestExecute_DevelopmentMode(t *testing.T) {
	root := t.TempDir()
	modes := state.NewModeFlags(root)

	_, err := execute(t, "--root-dir", root, "--development=beta")
	require.NoError(t, err)
	mode, enabled, err := modes.Devmode()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "beta", mode)

	_, err = execute(t, "--root-dir", root, "-D")
	require.NoError(t, err)
	mode, enabled, err = modes.Devmode()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Empty(t, mode)

	_, err = execute(t, "--root-dir", root, "--development=unset")
	require.NoError(t, err)
	_, enabled, err = modes.Devmode()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestExecute_LocalSourcesMode(t *testing.T) {
	root := t.TempDir()
	srcs := t.TempDir()
	modes := state.NewModeFlags(root)

	_, err := execute(t, "--root-dir", root, "-L", "--local-sources=libfoo:"+srcs, "--local-sources=libbar:")
	require.NoError(t, err)

	got, enabled, err := modes.LocalSources()
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, map[string]string{"": "", "libfoo": srcs, "libbar": ""}, got)

	_, err = execute(t, "--root-dir", root, "--local-sources=unset")
	require.NoError(t, err)
	_, enabled, err = modes.LocalSources()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestExecute_UnknownFlags(t *testing.T) {
	root := t.TempDir()

	_, err := execute(t, "--root-dir", root, "--bogus=1", "init")
	require.Error(t, err)

	_, err = execute(t, "--root-dir", root, "--relaxed-args", "--bogus=1", "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "releng-tool.rt"))
}

func TestExecute_MissingProject(t *testing.T) {
	out, err := execute(t, "--root-dir", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, 1, cli.ExitCode(err))
	assert.Contains(t, out, "error: ")
}
