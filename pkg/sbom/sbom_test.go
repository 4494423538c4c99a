package sbom_test

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/sbom"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

func fixture() []*packages.Package {
	return []*packages.Package{
		{
			Name: "libfoo", Version: "1.2.0", Type: types.PackageTypeCMake,
			VcsType: types.VcsTypeURL, Site: "https://example.com/libfoo-1.2.0.tgz",
			License: []string{"MIT"},
		},
		{
			Name: "app", Version: "main", Type: types.PackageTypeScript,
			VcsType: types.VcsTypeLocal, Site: "ignored", Internal: true,
		},
	}
}

func newGenerator(t *testing.T) *sbom.Generator {
	g := sbom.NewGenerator(t.TempDir(), "2.1.0", nil)
	g.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []string
		wantErr bool
	}{
		{"default", nil, []string{"text"}, false},
		{"list", []string{"json,csv", "json"}, []string{"json", "csv"}, false},
		{"all", []string{"yaml", "all"}, sbom.Formats, false},
		{"unknown", []string{"xml"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sbom.ParseFormats(tt.values)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAllFormats(t *testing.T) {
	g := newGenerator(t)
	paths, err := g.Write(fixture(), sbom.Formats)
	require.NoError(t, err)
	require.Len(t, paths, 4)

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"sbom.csv", "sbom.json", "sbom.txt", "sbom.yaml"}, names)

	t.Run("json", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(g.Dir, "sbom.json"))
		require.NoError(t, err)
		var doc sbom.Document
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.True(t, strings.HasPrefix(doc.Serial, "urn:uuid:"))
		assert.Equal(t, "2024-05-01T12:00:00Z", doc.Created)
		require.Len(t, doc.Packages, 2)
		assert.Equal(t, "https://example.com/libfoo-1.2.0.tgz", doc.Packages[0].Site)
		assert.Empty(t, doc.Packages[1].Site)
		assert.True(t, doc.Packages[1].Internal)
	})

	t.Run("yaml", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(g.Dir, "sbom.yaml"))
		require.NoError(t, err)
		var doc sbom.Document
		require.NoError(t, yaml.Unmarshal(data, &doc))
		assert.Equal(t, "releng-tool 2.1.0", doc.Generator)
		assert.Equal(t, []string{"MIT"}, doc.Packages[0].Licenses)
	})

	t.Run("csv", func(t *testing.T) {
		f, err := os.Open(filepath.Join(g.Dir, "sbom.csv"))
		require.NoError(t, err)
		defer f.Close()
		records, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "name", records[0][0])
		assert.Equal(t, []string{"app", "main", "script", "local", "", "", "true", ""}, records[2])
	})

	t.Run("text", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(g.Dir, "sbom.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "libfoo 1.2.0\n    type: cmake\n")
		assert.Contains(t, string(data), "    licenses: MIT\n")
	})
}

func TestSerialIsUnique(t *testing.T) {
	g := newGenerator(t)
	a := g.Document(fixture())
	b := g.Document(fixture())
	assert.NotEqual(t, a.Serial, b.Serial)
}
