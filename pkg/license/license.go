// Package license gathers package license files and renders the project
// license report
package license

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// ReportName is the file name of the aggregated license report
const ReportName = "licenses"

const separator = "--------------------------------------------------------------------------------"

// Manager copies license files into the license directory
type Manager struct {
	// Dir is the license output directory
	Dir string

	// Header is written at the top of the report
	Header string

	Log logger.Logger
}

// NewManager creates a license manager writing into dir
func NewManager(dir, header string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{Dir: dir, Header: header, Log: log}
}

// PackageDir returns the directory receiving a package's license files
func (m *Manager) PackageDir(pkg *packages.Package) string {
	return filepath.Join(m.Dir, pkg.Nv)
}

// Gather copies the license files of a package, relative to its build
// directory, into the package's license directory
func (m *Manager) Gather(pkg *packages.Package) ([]string, error) {
	if len(pkg.LicenseFiles) == 0 {
		m.Log.Debug("package has no license files")
		return nil, nil
	}

	dir := m.PackageDir(pkg)
	if err := utils.Remove(dir); err != nil {
		return nil, types.Wrap(types.ErrIO, err)
	}
	if err := utils.EnsureDirectory(dir); err != nil {
		return nil, types.Wrap(types.ErrIO, err)
	}

	sources, err := m.sources(pkg)
	if err != nil {
		return nil, err
	}

	copied := make([]string, 0, len(sources))
	for _, src := range sources {
		dst := filepath.Join(dir, filepath.Base(src))
		if err := utils.CopyFile(src, dst); err != nil {
			return nil, types.Wrap(types.ErrIO, fmt.Errorf("unable to copy license file %s: %w", src, err))
		}
		copied = append(copied, dst)
	}
	m.Log.Verbose(fmt.Sprintf("gathered %d license file(s)", len(copied)))
	return copied, nil
}

// sources resolves the license file entries of a package into paths.
// Relative entries may be glob patterns matched against the build tree.
func (m *Manager) sources(pkg *packages.Package) ([]string, error) {
	var tree []string
	var paths []string
	for _, file := range pkg.LicenseFiles {
		if filepath.IsAbs(file) || !utils.IsGlobPattern(file) {
			src := file
			if !filepath.IsAbs(src) {
				src = filepath.Join(pkg.BuildDir, filepath.FromSlash(file))
			}
			if !utils.FileExists(src) {
				return nil, types.Errorf(types.ErrIO, "package %s: missing license file %s", pkg.Name, file)
			}
			paths = append(paths, src)
			continue
		}

		if tree == nil {
			var err error
			if tree, err = buildTree(pkg.BuildDir); err != nil {
				return nil, types.Wrap(types.ErrIO, err)
			}
		}
		matched := 0
		for _, rel := range tree {
			ok, err := utils.MatchGlob(file, rel)
			if err != nil {
				return nil, types.Errorf(types.ErrConfiguration, "package %s: invalid license pattern %q: %v",
					pkg.Name, file, err)
			}
			if ok {
				paths = append(paths, filepath.Join(pkg.BuildDir, filepath.FromSlash(rel)))
				matched++
			}
		}
		if matched == 0 {
			return nil, types.Errorf(types.ErrIO, "package %s: no license files match %s", pkg.Name, file)
		}
	}
	return paths, nil
}

// buildTree lists the files of a build directory without version control
// metadata
func buildTree(dir string) ([]string, error) {
	files, err := utils.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	skip, err := utils.NewExclusionMatcher(utils.VCSMetadata)
	if err != nil {
		return nil, err
	}
	return skip.FilterPaths(files), nil
}

// gathered lists the report entries of a package's gathered license files,
// in declaration order
func (m *Manager) gathered(pkg *packages.Package) ([]string, error) {
	dir := m.PackageDir(pkg)
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	var present []string
	for _, file := range pkg.LicenseFiles {
		file = filepath.ToSlash(file)
		if filepath.IsAbs(file) || !utils.IsGlobPattern(file) {
			add(path.Base(file))
			continue
		}
		if present == nil {
			entries, err := utils.ListFiles(dir)
			if err != nil {
				return nil, err
			}
			present = entries
		}
		for _, name := range present {
			if ok, _ := utils.MatchGlob(path.Base(file), name); ok {
				add(name)
			}
		}
	}
	return names, nil
}

// Generate writes the aggregated report of the gathered license files of
// every package, skipping packages without license files
func (m *Manager) Generate(pkgs []*packages.Package) (string, error) {
	var b bytes.Buffer
	if m.Header != "" {
		b.WriteString(strings.TrimRight(m.Header, "\n"))
		b.WriteString("\n\n")
	}

	for _, pkg := range pkgs {
		if len(pkg.LicenseFiles) == 0 {
			continue
		}

		title := pkg.Nv
		if len(pkg.License) > 0 {
			title += " - " + strings.Join(pkg.License, " AND ")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", separator, title, separator)

		names, err := m.gathered(pkg)
		if err != nil {
			return "", types.Errorf(types.ErrIO, "package %s: license files were not gathered: %v", pkg.Name, err)
		}
		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(m.PackageDir(pkg), name))
			if err != nil {
				return "", types.Errorf(types.ErrIO, "package %s: license file %s was not gathered: %v",
					pkg.Name, name, err)
			}
			b.WriteString("\n")
			b.Write(bytes.TrimRight(data, "\n"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if err := utils.EnsureDirectory(m.Dir); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}
	report := filepath.Join(m.Dir, ReportName)
	if err := renameio.WriteFile(report, b.Bytes(), 0o644); err != nil {
		return "", types.Wrap(types.ErrIO, fmt.Errorf("unable to write license report: %w", err))
	}
	m.Log.Success("generated license report " + report)
	return report, nil
}
