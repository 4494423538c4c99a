package license_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/license"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func newPackage(t *testing.T, root, name string, files map[string]string) *packages.Package {
	t.Helper()
	pkg := &packages.Package{
		Name:     name,
		Version:  "1.0",
		Nv:       name + "-1.0",
		BuildDir: filepath.Join(root, "build", name+"-1.0"),
	}
	for file, content := range files {
		path := filepath.Join(pkg.BuildDir, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		pkg.LicenseFiles = append(pkg.LicenseFiles, file)
	}
	return pkg
}

func TestGatherAndGenerate(t *testing.T) {
	root := t.TempDir()
	m := license.NewManager(filepath.Join(root, "licenses"), "Project licenses\n", nil)

	foo := newPackage(t, root, "libfoo", map[string]string{"COPYING": "MIT text\n"})
	foo.License = []string{"MIT"}
	bar := newPackage(t, root, "libbar", map[string]string{"doc/LICENSE": "BSD text"})
	bare := newPackage(t, root, "tool", nil)

	for _, pkg := range []*packages.Package{foo, bar, bare} {
		_, err := m.Gather(pkg)
		require.NoError(t, err)
	}
	assert.FileExists(t, filepath.Join(root, "licenses", "libfoo-1.0", "COPYING"))
	assert.FileExists(t, filepath.Join(root, "licenses", "libbar-1.0", "LICENSE"))
	assert.NoDirExists(t, filepath.Join(root, "licenses", "tool-1.0"))

	report, err := m.Generate([]*packages.Package{foo, bar, bare})
	require.NoError(t, err)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "Project licenses\n\n"))
	assert.Contains(t, content, "libfoo-1.0 - MIT\n")
	assert.Contains(t, content, "\nMIT text\n")
	assert.Contains(t, content, "libbar-1.0\n")
	assert.Contains(t, content, "\nBSD text\n")
	assert.NotContains(t, content, "tool-1.0")
}

func TestGatherMissingFile(t *testing.T) {
	root := t.TempDir()
	m := license.NewManager(filepath.Join(root, "licenses"), "", nil)

	pkg := newPackage(t, root, "libfoo", nil)
	pkg.LicenseFiles = []string{"COPYING"}

	_, err := m.Gather(pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIO)
	assert.Contains(t, err.Error(), "COPYING")
}

func TestGatherPatterns(t *testing.T) {
	root := t.TempDir()
	m := license.NewManager(filepath.Join(root, "licenses"), "", nil)

	pkg := newPackage(t, root, "libfoo", map[string]string{
		"COPYING":            "GPL text\n",
		"LICENSES/MIT.txt":   "MIT text\n",
		"LICENSES/BSD.txt":   "BSD text\n",
		".git/LICENSE.txt":   "metadata\n",
		"src/main.c":         "int main;\n",
		"LICENSES/README.md": "notes\n",
	})
	pkg.LicenseFiles = []string{"COPYING", "**/*.txt"}

	copied, err := m.Gather(pkg)
	require.NoError(t, err)
	assert.Len(t, copied, 3)
	dir := filepath.Join(root, "licenses", "libfoo-1.0")
	assert.FileExists(t, filepath.Join(dir, "MIT.txt"))
	assert.FileExists(t, filepath.Join(dir, "BSD.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "LICENSE.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "README.md"))

	report, err := m.Generate([]*packages.Package{pkg})
	require.NoError(t, err)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "\nGPL text\n")
	assert.Contains(t, content, "\nBSD text\n")
	assert.Contains(t, content, "\nMIT text\n")
	assert.NotContains(t, content, "metadata")
	assert.Less(t, strings.Index(content, "GPL text"), strings.Index(content, "BSD text"))

	pkg.LicenseFiles = []string{"*.rst"}
	_, err = m.Gather(pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIO)
}
