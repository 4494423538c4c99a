package packages

import (
	"context"
	"errors"
	"fmt"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Manager loads a project's packages and their dependencies
type Manager struct {
	Loader *Loader
}

// NewManager creates a package manager
func NewManager(loader *Loader) *Manager {
	return &Manager{Loader: loader}
}

// LoadAll loads the named packages and every package they depend on.
// Scripts are evaluated in queue order, each inheriting the globals
// exported by the scripts before it. Packages are returned in load order
// with dependencies linked; the returned environment holds every exported
// global.
func (m *Manager) LoadAll(ctx context.Context, names []string, env map[string]any) ([]*Package, map[string]any, error) {
	queue := append([]string{}, names...)
	queued := make(map[string]bool, len(names))
	for _, name := range names {
		queued[name] = true
	}
	requiredBy := map[string]string{}

	current := make(map[string]any, len(env))
	for k, v := range env {
		current[k] = v
	}

	var loaded []*Package
	byName := map[string]*Package{}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, types.Wrap(types.ErrUserAbort, err)
		}

		name := queue[0]
		queue = queue[1:]
		if _, done := byName[name]; done {
			continue
		}

		pkg, exported, err := m.Loader.Load(ctx, name, current)
		if err != nil {
			if parent, ok := requiredBy[name]; ok && errors.Is(err, types.ErrConfiguration) && !m.defined(name) {
				return nil, nil, types.Errorf(types.ErrDependency,
					"package %s depends on unknown package %s", parent, name)
			}
			return nil, nil, err
		}
		for k, v := range exported {
			current[k] = v
		}

		loaded = append(loaded, pkg)
		byName[name] = pkg
		for _, dep := range pkg.DepNames {
			if !queued[dep] {
				queued[dep] = true
				requiredBy[dep] = name
				queue = append(queue, dep)
			}
		}
	}

	for _, pkg := range loaded {
		pkg.Deps = make([]*Package, 0, len(pkg.DepNames))
		for _, dep := range pkg.DepNames {
			target, ok := byName[dep]
			if !ok {
				return nil, nil, types.Errorf(types.ErrDependency,
					"package %s depends on unknown package %s", pkg.Name, dep)
			}
			pkg.Deps = append(pkg.Deps, target)
		}
	}
	return loaded, current, nil
}

func (m *Manager) defined(name string) bool {
	_, err := m.Loader.Find(name)
	return err == nil
}

// Closure returns the package and every package it transitively depends
// on, in the order they appear in sorted
func Closure(target *Package, sorted []*Package) []*Package {
	members := map[*Package]bool{}
	var visit func(p *Package)
	visit = func(p *Package) {
		if members[p] {
			return
		}
		members[p] = true
		for _, dep := range p.Deps {
			visit(dep)
		}
	}
	visit(target)

	out := make([]*Package, 0, len(members))
	for _, p := range sorted {
		if members[p] {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a package by name
func Lookup(pkgs []*Package, name string) (*Package, error) {
	for _, p := range pkgs {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, types.Errorf(types.ErrConfiguration, "unknown package: %s", name)
}

// Describe renders a package for debug output
func Describe(p *Package) string {
	return fmt.Sprintf("%s (vcs=%s, type=%s, install=%s)", p.Nv, p.VcsType, p.Type, p.InstallType)
}
