package packages_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

type project struct {
	root   string
	opts   *config.Options
	loader *packages.Loader
	log    *bytes.Buffer
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	opts := config.NewOptions()
	opts.RootDir = root
	require.NoError(t, opts.Resolve(nil))

	var buf bytes.Buffer
	log := logger.NewWithOutput(&buf, false)
	runner := script.NewRunner(log, "2.0.0")
	return &project{
		root:   root,
		opts:   opts,
		loader: packages.NewLoader(opts, runner, log),
		log:    &buf,
	}
}

func (p *project) define(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(p.root, "package", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+".rt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"libfoo":      "LIBFOO",
		"lib-foo.bar": "LIB_FOO_BAR",
		"a b*c:d?e|f": "A_B_C_D_E_F",
	}
	for in, want := range tests {
		assert.Equal(t, want, packages.Normalize(in), in)
	}
}

func TestInferVcsType(t *testing.T) {
	tests := []struct {
		site string
		vcs  types.VcsType
		out  string
	}{
		{"", types.VcsTypeNone, ""},
		{"local", types.VcsTypeLocal, "local"},
		{"git+https://example.com/repo", types.VcsTypeGit, "https://example.com/repo"},
		{"https://example.com/repo.git", types.VcsTypeGit, "https://example.com/repo.git"},
		{"hg+https://example.com/repo", types.VcsTypeHg, "https://example.com/repo"},
		{"svn+https://example.com/svn", types.VcsTypeSvn, "https://example.com/svn"},
		{"scp+host:path/file.tgz", types.VcsTypeScp, "host:path/file.tgz"},
		{"https://example.com/foo-1.0.tar.gz", types.VcsTypeURL, "https://example.com/foo-1.0.tar.gz"},
	}
	for _, tt := range tests {
		vcs, site := packages.InferVcsType(tt.site)
		assert.Equal(t, tt.vcs, vcs, tt.site)
		assert.Equal(t, tt.out, site, tt.site)
	}
}

func TestArchiveExt(t *testing.T) {
	tests := map[string]string{
		"https://example.com/foo-1.0.tar.gz":        "tar.gz",
		"https://example.com/foo-1.0.tar.xz?dl=1":   "tar.xz",
		"https://example.com/foo-1.0.zip":           "zip",
		"file:///assets/foo-1.0.tgz":                "tgz",
		"https://example.com/download":              "",
		"https://example.com/archives/foo.TAR.BZ2":  "tar.bz2",
	}
	for site, want := range tests {
		assert.Equal(t, want, packages.ArchiveExt(site), site)
	}
}

func TestLoader_Load(t *testing.T) {
	p := newProject(t)
	p.define(t, "libfoo", `
LIBFOO_VERSION = "1.0"
LIBFOO_SITE = "https://example.com/libfoo-1.0.tar.gz"
LIBFOO_TYPE = "cmake"
LIBFOO_INSTALL_TYPE = "staging"
LIBFOO_DEPENDENCIES = ["libbar"]
LIBFOO_CONF_DEFS = {"WITH_TESTS": "OFF"}
LIBFOO_LICENSE = "MIT"
LIBFOO_LICENSE_FILES = ["LICENSE"]
LIBFOO_GIT_DEPTH = 0
LIBFOO_CMAKE_NOINSTALL = True
LIBFOO_EXPORTED = PKG_DEFDIR
`)

	pkg, env, err := p.loader.Load(context.Background(), "libfoo", map[string]any{"INHERITED": "yes"})
	require.NoError(t, err)

	assert.Equal(t, "libfoo-1.0", pkg.Nv)
	assert.Equal(t, "1.0", pkg.Revision)
	assert.Equal(t, types.VcsTypeURL, pkg.VcsType)
	assert.Equal(t, types.PackageTypeCMake, pkg.Type)
	assert.Equal(t, types.InstallTypeStaging, pkg.InstallType)
	assert.Equal(t, []string{"libbar"}, pkg.DepNames)
	assert.Equal(t, map[string]string{"WITH_TESTS": "OFF"}, pkg.ConfDefs)
	assert.Equal(t, []string{"MIT"}, pkg.License)
	assert.True(t, pkg.SkipInstall)
	require.NotNil(t, pkg.GitDepth)
	assert.Equal(t, 0, *pkg.GitDepth)
	assert.Equal(t, 1, pkg.StripCount)

	base := filepath.Join(p.opts.BuildDir, "libfoo-1.0")
	assert.Equal(t, base, pkg.BuildDir)
	assert.Equal(t, filepath.Join(base, "releng-output"), pkg.BuildOutputDir)
	assert.Equal(t, filepath.Join(p.opts.DlDir, "libfoo-1.0.tar.gz"), pkg.CacheFile)
	assert.Equal(t, filepath.Join(p.opts.CacheDir, "libfoo"), pkg.CacheDir)
	assert.Equal(t, filepath.Join(pkg.DefDir, "libfoo.hash"), pkg.HashFile)

	for _, flag := range pkg.Flags.Paths() {
		assert.Equal(t, pkg.BuildOutputDir, filepath.Dir(flag))
	}

	assert.Equal(t, "yes", env["INHERITED"])
	assert.Equal(t, pkg.DefDir, env["LIBFOO_EXPORTED"])
	assert.NotContains(t, env, "PKG_DEFDIR")
}

func TestLoader_Overrides(t *testing.T) {
	p := newProject(t)
	p.define(t, "app", `
APP_VERSION = "1.0"
APP_DEVMODE_REVISION = "main"
APP_SITE = "https://example.com/app.git"
`)

	p.opts.SitesOverride["app"] = "git+https://mirror.example.com/app"
	pkg, _, err := p.loader.Load(context.Background(), "app", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/app", pkg.Site)
	assert.Equal(t, types.VcsTypeGit, pkg.VcsType)
	assert.Equal(t, "", pkg.CacheExt)
	assert.Equal(t, filepath.Join(p.opts.DlDir, "app-1.0"), pkg.CacheFile)

	p.opts.RevisionOverride["app"] = "v1.0.1"
	pkg, _, err = p.loader.Load(context.Background(), "app", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.1", pkg.Revision)
	assert.Equal(t, "1.0", pkg.Version)

	p.opts.Devmode = true
	pkg, _, err = p.loader.Load(context.Background(), "app", nil)
	require.NoError(t, err)
	assert.Equal(t, "main", pkg.Revision)
	assert.Equal(t, "main", pkg.Version)
	assert.Equal(t, "app-main", pkg.Nv)
}

func TestLoader_CacheExtension(t *testing.T) {
	tree := t.TempDir()
	archive := filepath.Join(t.TempDir(), "src.tar.xz")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o644))

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"file archive", fmt.Sprintf("PKG_VERSION = '1'\nPKG_VCS_TYPE = 'file'\nPKG_SITE = %q", "file://"+filepath.ToSlash(archive)), "tar.xz"},
		{"file directory", fmt.Sprintf("PKG_VERSION = '1'\nPKG_VCS_TYPE = 'file'\nPKG_SITE = %q", "file://"+filepath.ToSlash(tree)), "tgz"},
		{"rsync", "PKG_VERSION = '1'\nPKG_SITE = 'rsync+host:/srv/src'", "tgz"},
		{"url", "PKG_VERSION = '1'\nPKG_SITE = 'https://example.com/pkg-1.zip'", "zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t)
			p.define(t, "pkg", tt.content)
			pkg, _, err := p.loader.Load(context.Background(), "pkg", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pkg.CacheExt)
			assert.Equal(t, filepath.Join(p.opts.DlDir, "pkg-1."+tt.want), pkg.CacheFile)
		})
	}
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		kind    error
	}{
		{"missing version", `PKG_SITE = "x"`, types.ErrConfiguration},
		{"bad type", "PKG_VERSION = '1'\nPKG_TYPE = 'unknown'", types.ErrConfiguration},
		{"bad install type", "PKG_VERSION = '1'\nPKG_INSTALL_TYPE = 'nowhere'", types.ErrConfiguration},
		{"bad typed value", "PKG_VERSION = '1'\nPKG_STRIP_COUNT = 'one'", types.ErrConfiguration},
		{"negative strip", "PKG_VERSION = '1'\nPKG_STRIP_COUNT = -1", types.ErrConfiguration},
		{"conflicting flags", "PKG_VERSION = '1'\nPKG_EXTERNAL = True\nPKG_INTERNAL = True", types.ErrConfiguration},
		{"self dependency", "PKG_VERSION = '1'\nPKG_DEPENDENCIES = ['pkg']", types.ErrDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t)
			p.define(t, "pkg", tt.content)
			_, _, err := p.loader.Load(context.Background(), "pkg", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestLoader_LocalSources(t *testing.T) {
	p := newProject(t)
	p.define(t, "module", "MODULE_VERSION = '1'\nMODULE_SITE = 'git+https://example.com/m'\nMODULE_INTERNAL = True")
	p.define(t, "thirdparty", "THIRDPARTY_VERSION = '1'\nTHIRDPARTY_SITE = 'https://example.com/t.tgz'")
	p.opts.LocalSrcs = map[string]string{"": ""}

	pkg, _, err := p.loader.Load(context.Background(), "module", nil)
	require.NoError(t, err)
	assert.True(t, pkg.LocalSrcs)
	assert.Equal(t, filepath.Join(filepath.Dir(p.root), "module"), pkg.BuildDir)

	pkg, _, err = p.loader.Load(context.Background(), "thirdparty", nil)
	require.NoError(t, err)
	assert.False(t, pkg.LocalSrcs)
}

func TestLoader_PrefersRtScripts(t *testing.T) {
	p := newProject(t)
	dir := filepath.Join(p.root, "package", "dual")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dual"), []byte("DUAL_VERSION = 'legacy'"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dual.rt"), []byte("DUAL_VERSION = 'new'"), 0o644))

	pkg, _, err := p.loader.Load(context.Background(), "dual", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", pkg.Version)
}

func TestManager_LoadAll(t *testing.T) {
	p := newProject(t)
	p.define(t, "a", "A_VERSION = '1'\nA_DEPENDENCIES = ['b']\nA_SEEN = B_MARK")
	p.define(t, "b", "B_VERSION = '1'\nB_DEPENDENCIES = ['c']\nB_MARK = 'from-b'")
	p.define(t, "c", "C_VERSION = '1'")

	// b is listed first so its exports are visible when a is evaluated
	pkgs, env, err := packages.NewManager(p.loader).LoadAll(context.Background(), []string{"b", "a"}, nil)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	assert.Equal(t, "from-b", env["A_SEEN"])

	a, err := packages.Lookup(pkgs, "a")
	require.NoError(t, err)
	require.Len(t, a.Deps, 1)
	assert.Equal(t, "b", a.Deps[0].Name)
}

func TestManager_UnknownDependency(t *testing.T) {
	p := newProject(t)
	p.define(t, "a", "A_VERSION = '1'\nA_DEPENDENCIES = ['ghost']")

	_, _, err := packages.NewManager(p.loader).LoadAll(context.Background(), []string{"a"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDependency), "got %v", err)
}

func pkgs(names ...string) map[string]*packages.Package {
	out := map[string]*packages.Package{}
	for _, n := range names {
		out[n] = &packages.Package{Name: n}
	}
	return out
}

func names(list []*packages.Package) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Name
	}
	return out
}

func TestSorter_DependencyOrder(t *testing.T) {
	g := pkgs("a", "b", "c", "d")
	g["a"].Deps = []*packages.Package{g["b"]}
	g["b"].Deps = []*packages.Package{g["c"]}
	g["d"].Deps = []*packages.Package{g["c"]}

	sorted, err := packages.NewSorter().Sort([]*packages.Package{g["a"], g["d"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a", "d"}, names(sorted))

	// deterministic for the same input
	again, err := packages.NewSorter().Sort([]*packages.Package{g["a"], g["d"]})
	require.NoError(t, err)
	assert.Equal(t, names(sorted), names(again))
}

func TestSorter_DeclarationOrder(t *testing.T) {
	g := pkgs("app", "x", "y")
	g["app"].Deps = []*packages.Package{g["y"], g["x"]}

	sorted, err := packages.NewSorter().Sort([]*packages.Package{g["app"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "app"}, names(sorted))
}

func TestSorter_SessionAccumulates(t *testing.T) {
	g := pkgs("a", "b")
	sorter := packages.NewSorter()

	first, err := sorter.Sort([]*packages.Package{g["b"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names(first))

	second, err := sorter.Sort([]*packages.Package{g["a"], g["b"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names(second))
}

func TestSorter_Cycle(t *testing.T) {
	g := pkgs("a", "b", "c")
	g["a"].Deps = []*packages.Package{g["b"]}
	g["b"].Deps = []*packages.Package{g["c"]}
	g["c"].Deps = []*packages.Package{g["a"]}

	_, err := packages.NewSorter().Sort([]*packages.Package{g["a"]})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDependency))
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestClosure(t *testing.T) {
	g := pkgs("a", "b", "c", "other")
	g["a"].Deps = []*packages.Package{g["b"]}
	g["b"].Deps = []*packages.Package{g["c"]}
	sorted := []*packages.Package{g["c"], g["other"], g["b"], g["a"]}

	assert.Equal(t, []string{"c", "b", "a"}, names(packages.Closure(g["a"], sorted)))
	assert.Equal(t, []string{"c", "b"}, names(packages.Closure(g["b"], sorted)))
}
