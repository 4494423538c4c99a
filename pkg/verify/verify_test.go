package verify_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/verify"
)

func sha(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHashes(t *testing.T) {
	dir := t.TempDir()
	archive := write(t, filepath.Join(dir, "foo-1.0.tar"), "archive-content")

	tests := []struct {
		name     string
		manifest string
		relaxed  bool
		want     verify.Result
	}{
		{"verified", "sha256 foo-1.0.tar " + sha("archive-content"), false, verify.Verified},
		{"comments", "# header\n\nsha256 foo-1.0.tar " + sha("archive-content") + "\n", false, verify.Verified},
		{"uppercase digest", "SHA256 foo-1.0.tar " + sha("archive-content"), false, verify.Verified},
		{"mismatch", "sha256 foo-1.0.tar " + sha("other"), false, verify.Mismatch},
		{"empty", "# nothing\n", false, verify.Empty},
		{"bad format", "sha256 foo-1.0.tar", false, verify.BadFormat},
		{"unsupported", "crc32 foo-1.0.tar 1234", false, verify.Unsupported},
		{"missing archive", "sha256 other.tar " + sha("x"), false, verify.MissingArchive},
		{"missing archive relaxed", "sha256 other.tar " + sha("x"), true, verify.Verified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashFile := write(t, filepath.Join(t.TempDir(), "foo.hash"), tt.manifest)
			report := verify.Hashes(hashFile, []string{archive}, tt.relaxed)
			assert.Equal(t, tt.want, report.Result, report.String())
		})
	}
}

func TestHashes_NoManifest(t *testing.T) {
	report := verify.Hashes(filepath.Join(t.TempDir(), "missing.hash"), nil, false)
	assert.Equal(t, verify.BadPath, report.Result)
}

func TestTree(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), "a")
	write(t, filepath.Join(root, "sub", "b.txt"), "b")

	manifest := "sha256 a.txt " + sha("a") + "\nsha256 sub/b.txt " + sha("b") + "\n"
	hashFile := write(t, filepath.Join(t.TempDir(), "tree.hash"), manifest)
	assert.Equal(t, verify.Verified, verify.Tree(context.Background(), hashFile, root, false).Result)

	missing := write(t, filepath.Join(t.TempDir(), "missing.hash"), manifest+"sha256 gone.txt "+sha("x")+"\n")
	assert.Equal(t, verify.MissingListed, verify.Tree(context.Background(), missing, root, false).Result)
	assert.Equal(t, verify.Verified, verify.Tree(context.Background(), missing, root, true).Result)
}

func TestTree_ManyEntries(t *testing.T) {
	root := t.TempDir()
	var manifest strings.Builder
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("file-%02d.txt", i)
		write(t, filepath.Join(root, name), name)
		digest := sha(name)
		if i == 17 {
			digest = sha("tampered")
		}
		fmt.Fprintf(&manifest, "sha256 %s %s\n", name, digest)
	}
	hashFile := write(t, filepath.Join(t.TempDir(), "tree.hash"), manifest.String())

	report := verify.Tree(context.Background(), hashFile, root, false)
	assert.Equal(t, verify.Mismatch, report.Result)
	assert.Contains(t, report.String(), "file-17.txt")
}

func TestGPG_NoSignature(t *testing.T) {
	dir := t.TempDir()
	file := write(t, filepath.Join(dir, "foo.tar"), "x")
	assert.NoError(t, verify.GPG(context.Background(), file, filepath.Join(dir, "foo.asc"), nil))
}
