// Package sbom renders the software bill of materials of a project
package sbom

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Supported output formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatText = "text"
	FormatYAML = "yaml"
)

// Formats lists every supported format
var Formats = []string{FormatCSV, FormatJSON, FormatText, FormatYAML}

// FileName is the base name of generated documents
const FileName = "sbom"

var extensions = map[string]string{
	FormatCSV:  "csv",
	FormatJSON: "json",
	FormatText: "txt",
	FormatYAML: "yaml",
}

// Document is a bill of materials
type Document struct {
	Serial    string  `json:"serial" yaml:"serial"`
	Generator string  `json:"generator" yaml:"generator"`
	Created   string  `json:"created" yaml:"created"`
	Packages  []Entry `json:"packages" yaml:"packages"`
}

// Entry describes one package
type Entry struct {
	Name     string   `json:"name" yaml:"name"`
	Version  string   `json:"version" yaml:"version"`
	Type     string   `json:"type" yaml:"type"`
	Source   string   `json:"source" yaml:"source"`
	Site     string   `json:"site,omitempty" yaml:"site,omitempty"`
	Revision string   `json:"revision,omitempty" yaml:"revision,omitempty"`
	Internal bool     `json:"internal" yaml:"internal"`
	Licenses []string `json:"licenses" yaml:"licenses"`
}

// ParseFormats validates a list of format names. The value "all" selects
// every format.
func ParseFormats(values []string) ([]string, error) {
	var formats []string
	seen := map[string]bool{}
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if name == "all" {
				return append([]string{}, Formats...), nil
			}
			if _, ok := extensions[name]; !ok {
				return nil, types.Errorf(types.ErrConfiguration, "unknown sbom format: %s", name)
			}
			if !seen[name] {
				seen[name] = true
				formats = append(formats, name)
			}
		}
	}
	if len(formats) == 0 {
		formats = []string{FormatText}
	}
	return formats, nil
}

// Generator writes bill of materials documents into a directory
type Generator struct {
	Dir     string
	Version string
	Log     logger.Logger

	// Now returns the creation time (time.Now when nil)
	Now func() time.Time
}

// NewGenerator creates a generator writing into dir
func NewGenerator(dir, version string, log logger.Logger) *Generator {
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{Dir: dir, Version: version, Log: log}
}

// Document builds the bill of materials of the packages
func (g *Generator) Document(pkgs []*packages.Package) *Document {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	doc := &Document{
		Serial:    "urn:uuid:" + uuid.NewString(),
		Generator: "releng-tool " + g.Version,
		Created:   now().UTC().Format(time.RFC3339),
		Packages:  make([]Entry, 0, len(pkgs)),
	}
	for _, pkg := range pkgs {
		entry := Entry{
			Name:     pkg.Name,
			Version:  pkg.Version,
			Type:     string(pkg.Type),
			Source:   string(pkg.VcsType),
			Internal: pkg.Internal,
			Licenses: append([]string{}, pkg.License...),
		}
		if pkg.VcsType.IsSourced() {
			entry.Site = pkg.Site
			entry.Revision = pkg.Revision
		}
		doc.Packages = append(doc.Packages, entry)
	}
	return doc
}

// Write renders the document in every requested format, returning the
// written paths
func (g *Generator) Write(pkgs []*packages.Package, formats []string) ([]string, error) {
	doc := g.Document(pkgs)
	if err := utils.EnsureDirectory(g.Dir); err != nil {
		return nil, types.Wrap(types.ErrIO, err)
	}

	var written []string
	for _, format := range formats {
		data, err := Render(doc, format)
		if err != nil {
			return written, err
		}
		path := filepath.Join(g.Dir, FileName+"."+extensions[format])
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return written, types.Wrap(types.ErrIO, fmt.Errorf("unable to write %s: %w", path, err))
		}
		g.Log.Success("generated sbom " + path)
		written = append(written, path)
	}
	return written, nil
}

// Render encodes a document in a format
func Render(doc *Document, format string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return renderCSV(doc)
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatText:
		return renderText(doc), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, types.Errorf(types.ErrConfiguration, "unknown sbom format: %s", format)
}

func renderCSV(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	records := [][]string{{"name", "version", "type", "source", "site", "revision", "internal", "licenses"}}
	for _, e := range doc.Packages {
		records = append(records, []string{
			e.Name, e.Version, e.Type, e.Source, e.Site, e.Revision,
			strconv.FormatBool(e.Internal), strings.Join(e.Licenses, ";"),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderText(doc *Document) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "serial: %s\ngenerator: %s\ncreated: %s\n", doc.Serial, doc.Generator, doc.Created)
	for _, e := range doc.Packages {
		fmt.Fprintf(&b, "\n%s %s\n", e.Name, e.Version)
		fmt.Fprintf(&b, "    type: %s\n", e.Type)
		fmt.Fprintf(&b, "    source: %s\n", e.Source)
		if e.Site != "" {
			fmt.Fprintf(&b, "    site: %s\n", e.Site)
		}
		if e.Revision != "" {
			fmt.Fprintf(&b, "    revision: %s\n", e.Revision)
		}
		fmt.Fprintf(&b, "    internal: %t\n", e.Internal)
		if len(e.Licenses) > 0 {
			fmt.Fprintf(&b, "    licenses: %s\n", strings.Join(e.Licenses, ", "))
		}
	}
	return b.Bytes()
}
