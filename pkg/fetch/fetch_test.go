package fetch_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/fetch"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func newURL() *fetch.URL {
	u := fetch.NewURL()
	u.Delay, u.Jitter = 0, 0
	off := false
	u.Progress = &off
	return u
}

func newOptions(t *testing.T, pkg *packages.Package) *fetch.Options {
	t.Helper()
	root := t.TempDir()
	if pkg.CacheFile == "" {
		pkg.CacheFile = filepath.Join(root, "dl", pkg.Nv+".tar")
	}
	if pkg.CacheDir == "" {
		pkg.CacheDir = filepath.Join(root, "cache", pkg.Name)
	}
	opts := config.NewOptions()
	return &fetch.Options{
		Pkg:     pkg,
		Opts:    opts,
		WorkDir: filepath.Join(root, "dl", ".tmp"),
		Log:     logger.Discard(),
	}
}

type recorder struct {
	mu   sync.Mutex
	hits []string
}

func (r *recorder) record(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, path)
	return len(r.hits)
}

func TestURLFetchRetriesTransientFailures(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record(r.URL.Path) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: srv.URL + "/foo-1.0.tar"}
	o := newOptions(t, pkg)

	file, err := newURL().Fetch(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, o.InterimFile(), file)
	assert.Len(t, rec.hits, 3)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestURLFetchStopsOnPermanentFailure(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: srv.URL + "/foo-1.0.tar"}
	_, err := newURL().Fetch(context.Background(), newOptions(t, pkg))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSourceAcquisition))
	assert.Len(t, rec.hits, 1)

	var status *fetch.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusNotFound, status.Code)
}

func TestURLFetchMirrorFallback(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/mirror/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "canonical")
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		onlyMirror bool
		internal   bool
		wantErr    bool
		wantHits   []string
	}{
		{"fallback", false, false, false, []string{"/mirror/foo/foo-1.0.tar", "/site/foo-1.0.tar"}},
		{"only mirror external", true, false, true, []string{"/mirror/foo/foo-1.0.tar"}},
		{"only mirror internal", true, true, false, []string{"/mirror/foo/foo-1.0.tar", "/site/foo-1.0.tar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.hits = nil
			pkg := &packages.Package{
				Name: "foo", Version: "1.0", Nv: "foo-1.0", Internal: tt.internal,
				Site: srv.URL + "/site/foo-1.0.tar",
			}
			o := newOptions(t, pkg)
			o.Opts.URLMirror = srv.URL + "/mirror/{name}/"
			o.Opts.OnlyMirror = tt.onlyMirror

			_, err := newURL().Fetch(context.Background(), o)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantHits, rec.hits)
		})
	}
}

func TestURLFetchFileTransport(t *testing.T) {
	assets := t.TempDir()
	src := filepath.Join(assets, "foo-1.0.tar")
	require.NoError(t, os.WriteFile(src, []byte("archive"), 0o644))

	pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: "file://" + filepath.ToSlash(src)}
	file, err := newURL().Fetch(context.Background(), newOptions(t, pkg))
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
}

func TestMirrorURL(t *testing.T) {
	pkg := &packages.Package{Name: "foo", Version: "1.0", CacheFile: "/dl/foo-1.0.tar.gz"}
	assert.Equal(t, "", fetch.MirrorURL("", pkg))
	assert.Equal(t, "https://m.example/foo/foo-1.0.tar.gz", fetch.MirrorURL("https://m.example/{name}/", pkg))
	assert.Equal(t, "https://m.example/foo-1.0.tgz", fetch.MirrorURL("https://m.example/{name}-{version}.tgz", pkg))
}

func TestFileFetch(t *testing.T) {
	assets := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(assets, "foo.bin"), []byte("bin"), 0o644))
	tree := filepath.Join(assets, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "sub", "a.txt"), []byte("a"), 0o644))

	t.Run("file", func(t *testing.T) {
		pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: "foo.bin", DefDir: assets}
		file, err := (&fetch.File{}).Fetch(context.Background(), newOptions(t, pkg))
		require.NoError(t, err)
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Equal(t, "bin", string(data))
	})

	t.Run("directory", func(t *testing.T) {
		pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: "file://" + filepath.ToSlash(tree)}
		file, err := (&fetch.File{}).Fetch(context.Background(), newOptions(t, pkg))
		require.NoError(t, err)
		assert.Contains(t, tarMembers(t, file), "foo-1.0/sub/a.txt")
	})

	t.Run("missing", func(t *testing.T) {
		pkg := &packages.Package{Name: "foo", Version: "1.0", Nv: "foo-1.0", Site: "missing", DefDir: assets}
		_, err := (&fetch.File{}).Fetch(context.Background(), newOptions(t, pkg))
		assert.True(t, errors.Is(err, types.ErrSourceAcquisition))
	})
}

func tarMembers(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestArchiveDirExcludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CVS"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CVS", "Root"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main;"), 0o644))

	dst := filepath.Join(t.TempDir(), "out.tgz")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.o"), []byte("obj"), 0o644))
	require.NoError(t, fetch.ArchiveDir(dir, "pkg-1", dst, "CVS", "*.o"))

	members := tarMembers(t, dst)
	assert.Contains(t, members, "pkg-1/main.c")
	for _, m := range members {
		assert.NotContains(t, m, "CVS")
		assert.NotContains(t, m, ".o")
	}
}

func TestSplitCvsSite(t *testing.T) {
	root, module, err := fetch.SplitCvsSite(":pserver:anonymous@cvs.example.com:/cvsroot mymodule")
	require.NoError(t, err)
	assert.Equal(t, ":pserver:anonymous@cvs.example.com:/cvsroot", root)
	assert.Equal(t, "mymodule", module)

	_, _, err = fetch.SplitCvsSite(":pserver:anonymous@cvs.example.com:/cvsroot")
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestRegistry(t *testing.T) {
	reg := fetch.NewRegistry()
	for _, vcs := range []types.VcsType{types.VcsTypeGit, types.VcsTypeURL, types.VcsTypeFile, types.VcsTypeSvn} {
		_, ok := reg.For(vcs)
		assert.True(t, ok, vcs)
	}
	_, ok := reg.For(types.VcsTypeNone)
	assert.False(t, ok)

	reg.Register("custom", fetch.FetcherFunc(func(context.Context, *fetch.Options) (string, error) {
		return "custom", nil
	}))
	f, ok := reg.For("ext-custom")
	require.True(t, ok)
	out, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", out)
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func TestGitFetchShallowThenUnshallow(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	upstream := t.TempDir()
	git(t, upstream, "init", "--quiet")
	var commits []string
	for _, msg := range []string{"c1", "c2", "c3"} {
		require.NoError(t, os.WriteFile(filepath.Join(upstream, "file"), []byte(msg), 0o644))
		git(t, upstream, "add", "file")
		git(t, upstream, "commit", "--quiet", "-m", msg)
		commits = append(commits, git(t, upstream, "rev-parse", "HEAD"))
	}
	git(t, upstream, "tag", "v3")

	depth := 1
	pkg := &packages.Package{
		Name: "bar", Version: "v3", Nv: "bar-v3", Revision: "v3",
		Site: "file://" + filepath.ToSlash(upstream), GitDepth: &depth,
	}
	o := newOptions(t, pkg)

	out, err := (&fetch.Git{}).Fetch(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, pkg.CacheDir, out)
	assert.Equal(t, "1", git(t, "", "--git-dir="+pkg.CacheDir, "rev-list", "--count", "v3"))

	pkg.Revision = commits[0]
	_, err = (&fetch.Git{}).Fetch(context.Background(), o)
	require.NoError(t, err)

	repo := &fetch.GitRepo{Dir: pkg.CacheDir}
	hash, kind := repo.Resolve(context.Background(), commits[0])
	assert.Equal(t, commits[0], hash)
	assert.Equal(t, fetch.RevisionCommit, kind)
	assert.False(t, repo.Shallow(context.Background()))
	assert.Equal(t, "false", git(t, "", "--git-dir="+pkg.CacheDir, "rev-parse", "--is-shallow-repository"))
	assert.Equal(t, "3", git(t, "", "--git-dir="+pkg.CacheDir, "rev-list", "--count", commits[2]))
}

func TestGitFetchCommitHashAtDepth(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	upstream := t.TempDir()
	git(t, upstream, "init", "--quiet")
	var commits []string
	for _, msg := range []string{"c1", "c2", "c3"} {
		require.NoError(t, os.WriteFile(filepath.Join(upstream, "file"), []byte(msg), 0o644))
		git(t, upstream, "add", "file")
		git(t, upstream, "commit", "--quiet", "-m", msg)
		commits = append(commits, git(t, upstream, "rev-parse", "HEAD"))
	}
	git(t, upstream, "config", "uploadpack.allowAnySHA1InWant", "true")

	depth := 1
	pkg := &packages.Package{
		Name: "bar", Version: commits[2], Nv: "bar-" + commits[2], Revision: commits[2],
		Site: "file://" + filepath.ToSlash(upstream), GitDepth: &depth,
	}
	o := newOptions(t, pkg)

	_, err := (&fetch.Git{}).Fetch(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "1", git(t, "", "--git-dir="+pkg.CacheDir, "rev-list", "--count", commits[2]))

	// an older commit unshallows the cache even when the server serves hashes
	pkg.Revision, pkg.Version = commits[0], commits[0]
	_, err = (&fetch.Git{}).Fetch(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "false", git(t, "", "--git-dir="+pkg.CacheDir, "rev-parse", "--is-shallow-repository"))
	assert.Equal(t, "3", git(t, "", "--git-dir="+pkg.CacheDir, "rev-list", "--count", commits[2]))
}
