// Package prerequisites verifies the host provides the tools a project
// needs before any package is processed
package prerequisites

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/process"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Probe reports whether a requirement is satisfied by the host
type Probe func(ctx context.Context) bool

// Requirement is a named host capability
type Requirement struct {
	Name  string
	Probe Probe
}

// Executable requires a tool discoverable on the path
func Executable(t *tool.Tool) Requirement {
	return Requirement{Name: t.Name, Probe: func(context.Context) bool { return t.Exists() }}
}

// PythonModule requires a module importable by an interpreter
func PythonModule(interpreter *tool.Tool, module string) Requirement {
	return Requirement{
		Name: interpreter.Name + " (" + module + " module)",
		Probe: func(ctx context.Context) bool {
			return interpreter.Succeeds(ctx, []string{"-c", "import " + module}, nil)
		},
	}
}

var vcsTools = map[types.VcsType]*tool.Tool{
	types.VcsTypeBrz:      tool.Brz,
	types.VcsTypeBzr:      tool.Bzr,
	types.VcsTypeCvs:      tool.Cvs,
	types.VcsTypeGit:      tool.Git,
	types.VcsTypeHg:       tool.Hg,
	types.VcsTypePerforce: tool.Git,
	types.VcsTypeRsync:    tool.Rsync,
	types.VcsTypeScp:      tool.Scp,
	types.VcsTypeSvn:      tool.Svn,
}

var typeTools = map[types.PackageType]*tool.Tool{
	types.PackageTypeAutotools: tool.Make,
	types.PackageTypeCargo:     tool.Cargo,
	types.PackageTypeCMake:     tool.CMake,
	types.PackageTypeMake:      tool.Make,
	types.PackageTypeMeson:     tool.Meson,
	types.PackageTypeSCons:     tool.SCons,
}

// Checker collects and probes the requirements of a package set
type Checker struct {
	Opts *config.Options
	Log  logger.Logger
}

// NewChecker creates a prerequisite checker
func NewChecker(opts *config.Options, log logger.Logger) *Checker {
	if log == nil {
		log = logger.Discard()
	}
	return &Checker{Opts: opts, Log: log}
}

// Requirements returns the requirements of the packages, deduplicated by
// name and sorted
func (c *Checker) Requirements(pkgs []*packages.Package) []Requirement {
	found := map[string]Requirement{}
	add := func(r Requirement) {
		if _, ok := found[r.Name]; !ok {
			found[r.Name] = r
		}
	}

	for _, pkg := range pkgs {
		if t, ok := vcsTools[pkg.VcsType]; ok {
			add(Executable(t))
		}
		if t, ok := typeTools[pkg.Type]; ok {
			add(Executable(t))
		}
		if pkg.Type == types.PackageTypeAutotools && pkg.AutotoolsAutoreconf {
			add(Executable(tool.Autoreconf))
		}
		if pkg.Type == types.PackageTypePython {
			interpreter := tool.Interpreter(pkg.PythonInterpreter)
			add(Executable(interpreter))
			if pkg.PythonSetupType != types.PythonSetupTypeDistutils {
				add(PythonModule(interpreter, "build"))
				add(PythonModule(interpreter, "installer"))
			}
		}
	}
	if c.Opts != nil {
		for _, name := range c.Opts.Prerequisites {
			add(Executable(tool.ForName(name)))
		}
	}

	reqs := make([]Requirement, 0, len(found))
	for _, r := range found {
		reqs = append(reqs, r)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	return reqs
}

// Check probes every requirement concurrently and reports all missing
// ones at once
func (c *Checker) Check(ctx context.Context, pkgs []*packages.Package) error {
	if c.Opts != nil && c.Opts.HasQuirk(types.QuirkDisablePrerequisites) {
		c.Log.Debug("prerequisites check disabled")
		return nil
	}

	reqs := c.Requirements(pkgs)
	missing := c.Missing(ctx, reqs)
	if len(missing) == 0 {
		c.Log.Debug("prerequisites satisfied", logger.WithField("count", len(reqs)))
		return nil
	}

	for _, name := range missing {
		c.Log.Error("missing prerequisite: " + name)
	}
	c.Log.Hint("install the missing tools or disable the check with the " +
		types.QuirkDisablePrerequisites + " quirk")
	return types.Errorf(types.ErrPrerequisite, "missing prerequisites: %s", strings.Join(missing, ", "))
}

// Missing returns the sorted names of unsatisfied requirements
func (c *Checker) Missing(ctx context.Context, reqs []Requirement) []string {
	var mu sync.Mutex
	var missing []string

	g, gctx := process.NewSafeGroup(ctx, c.Log)
	g.SetLimit(8)
	for _, r := range reqs {
		r := r
		g.Go(func() error {
			if !r.Probe(gctx) {
				mu.Lock()
				missing = append(missing, r.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.Log.Debug("prerequisite probe failed", logger.WithField("error", err))
	}

	sort.Strings(missing)
	return missing
}
