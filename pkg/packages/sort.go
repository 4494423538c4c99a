package packages

import (
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

type mark int

const (
	untouched mark = iota
	inProgress
	done
)

// Sorter is a topological sort session. Its state persists across Sort
// calls: each call appends newly reached packages to the same order, so
// callers can influence ordering through the sequence of calls.
type Sorter struct {
	marks  map[*Package]mark
	sorted []*Package
}

// NewSorter creates a sort session
func NewSorter() *Sorter {
	return &Sorter{marks: map[*Package]mark{}}
}

// Sort visits packages depth-first in input order (dependencies in
// declaration order) and returns the accumulated order, where every
// package follows its dependencies
func (s *Sorter) Sort(pkgs []*Package) ([]*Package, error) {
	for _, p := range pkgs {
		if err := s.visit(p, nil); err != nil {
			return nil, err
		}
	}
	return append([]*Package{}, s.sorted...), nil
}

func (s *Sorter) visit(p *Package, path []string) error {
	switch s.marks[p] {
	case done:
		return nil
	case inProgress:
		cycle := append(cyclePath(path, p.Name), p.Name)
		return types.Errorf(types.ErrDependency, "cyclic package dependency: %s", strings.Join(cycle, " -> "))
	}

	s.marks[p] = inProgress
	path = append(path, p.Name)
	for _, dep := range p.Deps {
		if err := s.visit(dep, path); err != nil {
			return err
		}
	}
	s.marks[p] = done
	s.sorted = append(s.sorted, p)
	return nil
}

func cyclePath(path []string, name string) []string {
	for i, n := range path {
		if n == name {
			return append([]string{}, path[i:]...)
		}
	}
	return append([]string{}, path...)
}
