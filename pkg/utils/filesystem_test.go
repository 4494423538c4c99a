package utils_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestTouchCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", ".stage_build")
	require.NoError(t, utils.Touch(path))
	assert.True(t, utils.FileExists(path))
	assert.False(t, utils.DirectoryExists(path))

	// touching again keeps the file
	require.NoError(t, utils.Touch(path))
	assert.True(t, utils.FileExists(path))
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	writeFile(t, filepath.Join(tree, "sub", "file"), "x")

	require.NoError(t, utils.Remove(tree))
	assert.False(t, utils.PathExists(tree))
	require.NoError(t, utils.Remove(filepath.Join(dir, "missing")))
}

func TestCopyMergesDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "b")
	writeFile(t, filepath.Join(dst, "keep.txt"), "keep")

	require.NoError(t, utils.Copy(src, dst))
	assert.Equal(t, "a", read(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "b", read(t, filepath.Join(dst, "sub", "b.txt")))
	assert.Equal(t, "keep", read(t, filepath.Join(dst, "keep.txt")))
	assert.True(t, utils.FileExists(filepath.Join(src, "a.txt")))

	require.NoError(t, utils.CopyInto(filepath.Join(src, "a.txt"), filepath.Join(dir, "into")))
	assert.Equal(t, "a", read(t, filepath.Join(dir, "into", "a.txt")))
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "a.txt"), "new")
	writeFile(t, filepath.Join(dst, "a.txt"), "old")
	writeFile(t, filepath.Join(dst, "b.txt"), "b")

	require.NoError(t, utils.Move(src, dst))
	assert.False(t, utils.PathExists(src))
	assert.Equal(t, "new", read(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "b", read(t, filepath.Join(dst, "b.txt")))

	err := utils.Move(filepath.Join(dir, "missing"), dst)
	assert.Error(t, err)

	file := filepath.Join(dir, "file.tar")
	writeFile(t, file, "archive")
	require.NoError(t, utils.MoveInto(file, filepath.Join(dir, "dl")))
	assert.Equal(t, "archive", read(t, filepath.Join(dir, "dl", "file.tar")))
}

func TestSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "target"), "x")
	link := filepath.Join(dir, "links", "link")

	require.NoError(t, utils.Symlink("../target", link))
	require.NoError(t, utils.Symlink("../other", link))
	got, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "../other", got)

	assert.Error(t, utils.Symlink("x", filepath.Join(dir, "target")))
}

func TestListing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "")
	writeFile(t, filepath.Join(dir, "a", "c.txt"), "")
	assert.False(t, utils.IsEmptyDirectory(dir))

	names, err := utils.ListDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a" + string(filepath.Separator), "b.txt"}, names)

	files, err := utils.ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/c.txt", "b.txt"}, files)
}

func TestIsWithin(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "out", "build")
	tests := []struct {
		path string
		want bool
	}{
		{base, true},
		{filepath.Join(base, "pkg-1.0"), true},
		{filepath.Join(base, "..", "target"), false},
		{filepath.Join(base+"-other", "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.IsWithin(base, tt.path))
		})
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("RELENG_EXPAND_TEST", "env")
	vars := map[string]string{"PREFIX": "/usr", "NAME": "pkg"}

	tests := []struct {
		value string
		want  string
	}{
		{"plain", "plain"},
		{"$PREFIX/lib", "/usr/lib"},
		{"${NAME}-1.0", "pkg-1.0"},
		{"$RELENG_EXPAND_TEST", "env"},
		{"$UNKNOWN_RELENG_VAR stays", "$UNKNOWN_RELENG_VAR stays"},
		{"$$PREFIX", "$PREFIX"},
		{"${unclosed", "${unclosed"},
		{"cost $5", "cost $5"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.Expand(tt.value, vars))
		})
	}
}
