package builders_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/builders"
	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func newEngineOptions(t *testing.T) *config.Options {
	t.Helper()
	opts := config.NewOptions()
	opts.RootDir = t.TempDir()
	require.NoError(t, opts.Resolve(nil))
	return opts
}

func newPackage(t *testing.T, opts *config.Options, name string, pkgType types.PackageType) *packages.Package {
	t.Helper()
	defDir := filepath.Join(opts.RootDir, "package", name)
	buildDir := filepath.Join(opts.BuildDir, name+"-1.0")
	require.NoError(t, os.MkdirAll(defDir, 0o755))
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	return &packages.Package{
		Name:           name,
		Version:        "1.0",
		Nv:             name + "-1.0",
		DefDir:         defDir,
		Type:           pkgType,
		InstallType:    types.InstallTypeTarget,
		BuildDir:       buildDir,
		BuildOutputDir: buildDir,
	}
}

func TestDestDirs(t *testing.T) {
	o := &builders.Options{
		HostDir:    "/out/host",
		StagingDir: "/out/staging",
		TargetDir:  "/out/target",
		ImagesDir:  "/out/images",
	}

	tests := []struct {
		installType types.InstallType
		want        []string
	}{
		{types.InstallTypeHost, []string{"/out/host"}},
		{types.InstallTypeImages, []string{"/out/images"}},
		{types.InstallTypeStaging, []string{"/out/staging"}},
		{types.InstallTypeTarget, []string{"/out/target"}},
		{types.InstallTypeStagingAndTarget, []string{"/out/staging", "/out/target"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.installType), func(t *testing.T) {
			o.InstallType = tt.installType
			assert.Equal(t, tt.want, o.DestDirs())
		})
	}
}

func TestNewOptions(t *testing.T) {
	opts := newEngineOptions(t)
	opts.Jobs = 8

	pkg := newPackage(t, opts, "libfoo", types.PackageTypeMake)
	pkg.BuildSubdir = filepath.Join(pkg.BuildDir, "src")

	o := builders.NewOptions(pkg, opts)
	assert.Equal(t, "/usr", o.Prefix)
	assert.Equal(t, 8, o.Jobs)
	assert.Equal(t, pkg.BuildSubdir, o.Dir)

	pkg.HasPrefix, pkg.Prefix = true, ""
	pkg.FixedJobs = 1
	o = builders.NewOptions(pkg, opts)
	assert.Equal(t, "", o.Prefix)
	assert.Equal(t, 1, o.Jobs)
	assert.Equal(t, opts.TargetDir, o.PrefixedDir(opts.TargetDir))
}

func TestCMakeCache(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "libbar", types.PackageTypeCMake)
	o := builders.NewOptions(pkg, opts)

	cache := builders.CMakeCache(o)
	staging := filepath.ToSlash(filepath.Join(opts.StagingDir, "usr"))
	host := filepath.ToSlash(filepath.Join(opts.HostDir, "usr"))

	assert.Contains(t, cache, `set(CMAKE_INSTALL_PREFIX "/usr" CACHE PATH "")`)
	assert.Contains(t, cache, `set(CMAKE_INSTALL_LIBDIR "lib" CACHE PATH "")`)
	assert.Contains(t, cache, `set(CMAKE_PREFIX_PATH "`+staging+";"+host+`" CACHE STRING "")`)
	assert.Contains(t, cache, `set(CMAKE_LIBRARY_PATH "`+staging+"/lib;"+host+`/lib" CACHE STRING "")`)
	assert.Contains(t, cache, "CMAKE_C_STANDARD_INCLUDE_DIRECTORIES")
	assert.Contains(t, cache, "CMAKE_CXX_STANDARD_INCLUDE_DIRECTORIES")

	opts.Quirks[types.QuirkCMakeNoSystemIncludes] = true
	cache = builders.CMakeCache(o)
	assert.NotContains(t, cache, "STANDARD_INCLUDE_DIRECTORIES")
	assert.Contains(t, cache, "CMAKE_INCLUDE_PATH")
}

func writeManifest(t *testing.T, pkg *packages.Package, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(pkg.WorkDir(), "Cargo.toml"), []byte(content), 0o644))
}

func TestCargoPatches(t *testing.T) {
	opts := newEngineOptions(t)
	app := newPackage(t, opts, "app", types.PackageTypeCargo)
	core := newPackage(t, opts, "core", types.PackageTypeCargo)
	util := newPackage(t, opts, "util", types.PackageTypeCargo)
	unused := newPackage(t, opts, "unused", types.PackageTypeCargo)
	other := newPackage(t, opts, "other", types.PackageTypeMake)

	writeManifest(t, app, `
[package]
name = "app"
version = "0.1.0"

[dependencies]
serde = "1"
my-core = { package = "core-crate", version = "0.1" }
`)
	writeManifest(t, core, `
[package]
name = "core-crate"

[dependencies]
util-crate = "0.2"
`)
	writeManifest(t, util, `
[package]
name = "util-crate"
`)
	writeManifest(t, unused, `
[package]
name = "unused-crate"
`)

	args, err := builders.CargoPatches(app, []*packages.Package{app, core, util, unused, other})
	require.NoError(t, err)

	want := []string{
		"--config", `patch.crates-io."core-crate".path="` + filepath.ToSlash(core.WorkDir()) + `"`,
		"--config", `patch.crates-io."util-crate".path="` + filepath.ToSlash(util.WorkDir()) + `"`,
	}
	assert.Equal(t, want, args)
}

func TestCargoPatchesWithoutManifest(t *testing.T) {
	opts := newEngineOptions(t)
	app := newPackage(t, opts, "app", types.PackageTypeCargo)

	args, err := builders.CargoPatches(app, []*packages.Package{app})
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestCargoPatchesInvalidManifest(t *testing.T) {
	opts := newEngineOptions(t)
	app := newPackage(t, opts, "app", types.PackageTypeCargo)
	writeManifest(t, app, "[package\nname = ")

	_, err := builders.CargoPatches(app, []*packages.Package{app})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestFactory(t *testing.T) {
	f := builders.NewFactory()
	for _, pkgType := range types.PackageTypes {
		t.Run(string(pkgType), func(t *testing.T) {
			b, err := f.For(pkgType)
			require.NoError(t, err)
			assert.NotNil(t, b)
		})
	}

	_, err := f.For("custom")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	f.Register("custom", &recorder{})
	b, err := f.For("ext-custom")
	require.NoError(t, err)
	assert.IsType(t, &recorder{}, b)
}

type recorder struct {
	calls []string
	fail  error
}

func (r *recorder) Configure(context.Context, *builders.Options) error {
	r.calls = append(r.calls, "configure")
	return r.fail
}

func (r *recorder) Build(context.Context, *builders.Options) error {
	r.calls = append(r.calls, "build")
	return r.fail
}

func (r *recorder) Install(context.Context, *builders.Options) error {
	r.calls = append(r.calls, "install")
	return r.fail
}

func TestStage(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "libfoo", types.PackageTypeMake)
	ctx := context.Background()

	rec := &recorder{}
	o := builders.NewOptions(pkg, opts)
	for _, stage := range []types.Stage{types.StageConfigure, types.StageBuild, types.StageInstall} {
		require.NoError(t, builders.Stage(ctx, rec, stage, o))
	}
	assert.Equal(t, []string{"configure", "build", "install"}, rec.calls)
	assert.DirExists(t, opts.TargetDir)

	t.Run("skip install", func(t *testing.T) {
		rec := &recorder{}
		pkg.SkipInstall = true
		defer func() { pkg.SkipInstall = false }()
		require.NoError(t, builders.Stage(ctx, rec, types.StageInstall, o))
		assert.Empty(t, rec.calls)
	})

	t.Run("failure", func(t *testing.T) {
		rec := &recorder{fail: errors.New("exit status 2")}
		err := builders.Stage(ctx, rec, types.StageBuild, o)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStage)
		assert.Contains(t, err.Error(), "libfoo")
	})

	t.Run("unsupported stage", func(t *testing.T) {
		assert.Error(t, builders.Stage(ctx, &recorder{}, types.StagePatch, o))
	})
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func TestScriptBuilder(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "app", types.PackageTypeScript)

	writeFile(t, filepath.Join(pkg.DefDir, "app-build.rt"), `
releng_touch(MARKER)
`, 0o644)
	writeFile(t, filepath.Join(pkg.DefDir, "app-install.rt"), `
releng_exit()
fail("unreachable")
`, 0o644)

	var buf bytes.Buffer
	o := builders.NewOptions(pkg, opts)
	o.Runner = script.NewRunner(logger.NewWithOutput(&buf, false), "2.1.0")
	o.ScriptEnv = map[string]any{"MARKER": "built.marker"}

	ctx := context.Background()
	b := builders.Script{}
	require.NoError(t, b.Configure(ctx, o))
	require.NoError(t, b.Build(ctx, o))
	require.NoError(t, b.Install(ctx, o))
	assert.FileExists(t, filepath.Join(pkg.BuildDir, "built.marker"))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.NotEqual(t, pkg.BuildDir, wd)
}

func TestScriptBuilderRemoteScripts(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "app", types.PackageTypeScript)
	writeFile(t, filepath.Join(pkg.BuildDir, "releng-configure"), `releng_touch("remote.marker")`, 0o644)

	o := builders.NewOptions(pkg, opts)
	o.Runner = script.NewRunner(logger.Discard(), "2.1.0")
	ctx := context.Background()

	opts.Quirks[types.QuirkDisableRemoteScripts] = true
	require.NoError(t, builders.Script{}.Configure(ctx, o))
	assert.NoFileExists(t, filepath.Join(pkg.BuildDir, "remote.marker"))

	delete(opts.Quirks, types.QuirkDisableRemoteScripts)
	require.NoError(t, builders.Script{}.Configure(ctx, o))
	assert.FileExists(t, filepath.Join(pkg.BuildDir, "remote.marker"))
}

func TestScriptBuilderFailure(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "app", types.PackageTypeScript)
	writeFile(t, filepath.Join(pkg.DefDir, "app-build"), `fail("broken build")`, 0o644)

	o := builders.NewOptions(pkg, opts)
	o.Runner = script.NewRunner(logger.Discard(), "2.1.0")

	err := builders.Script{}.Build(context.Background(), o)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStage)

	var evalErr *script.EvalError
	require.True(t, errors.As(err, &evalErr))
	assert.Contains(t, evalErr.Error(), "broken build")
}

func TestFindStageScript(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "app", types.PackageTypeMake)

	_, ok := builders.FindStageScript(pkg, types.StagePost)
	assert.False(t, ok)

	writeFile(t, filepath.Join(pkg.DefDir, "app-post.releng"), "", 0o644)
	path, ok := builders.FindStageScript(pkg, types.StagePost)
	require.True(t, ok)
	assert.Equal(t, "app-post.releng", filepath.Base(path))

	writeFile(t, filepath.Join(pkg.DefDir, "app-post.rt"), "", 0o644)
	path, _ = builders.FindStageScript(pkg, types.StagePost)
	assert.Equal(t, "app-post.rt", filepath.Base(path))
}

func TestAutotoolsConfigure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}

	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "libfoo", types.PackageTypeAutotools)
	record := filepath.Join(t.TempDir(), "args")
	writeFile(t, filepath.Join(pkg.BuildDir, "configure"),
		"#!/bin/sh\nprintf '%s\\n' \"$@\" > \""+record+"\"\n", 0o755)

	o := builders.NewOptions(pkg, opts)
	o.ConfDefs = map[string]string{"CC": "gcc", "ENABLE_FOO": ""}
	o.ConfOpts = []string{"--disable-shared"}

	require.NoError(t, builders.Autotools{}.Configure(context.Background(), o))

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"--prefix=/usr",
		"--exec-prefix=/usr",
		"CC=gcc",
		"ENABLE_FOO",
		"--disable-shared",
	}, args)
}

func TestMakeConfigureWithoutArguments(t *testing.T) {
	opts := newEngineOptions(t)
	pkg := newPackage(t, opts, "libfoo", types.PackageTypeMake)

	// no configuration arguments means make is never invoked
	o := builders.NewOptions(pkg, opts)
	assert.NoError(t, builders.Make{}.Configure(context.Background(), o))
}
