// Package script evaluates releng-tool scripts (project configuration,
// package definitions and stage scripts) with Starlark
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
)

func init() {
	// package definitions commonly use top-level conditionals and loops
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
	resolve.AllowSet = true
}

const (
	localContext  = "releng.context"
	localDir      = "releng.dir"
	localScope    = "releng.scope"
	localIncludes = "releng.includes"
)

// Runner evaluates scripts with the releng helper catalog available
type Runner struct {
	Log logger.Logger

	// Version is the running tool version checked by require_version
	Version string

	// Stdout receives output of the cat/ls helpers
	Stdout io.Writer

	// Verbose requests that helpers report the operations they perform
	Verbose bool
}

// NewRunner creates a script runner
func NewRunner(log logger.Logger, version string) *Runner {
	return &Runner{Log: log, Version: version, Stdout: os.Stdout}
}

// Run evaluates a script with env available as predeclared names. The
// returned map holds env, extended with the globals of any included
// scripts and of the script itself.
func (r *Runner) Run(path string, env map[string]any) (map[string]any, error) {
	return r.RunContext(context.Background(), path, env)
}

// RunContext is Run with a context used to cancel evaluation and any
// commands a script executes
func (r *Runner) RunContext(ctx context.Context, path string, env map[string]any) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	scope, err := r.predeclared(env)
	if err != nil {
		return nil, &EvalError{Path: abs, Err: err}
	}

	includes := &includeState{}
	globals, err := r.exec(ctx, abs, scope, includes)
	if err != nil {
		return nil, err
	}

	result := make(map[string]any, len(env)+len(globals))
	for k, v := range env {
		result[k] = v
	}
	for _, included := range includes.globals {
		r.merge(result, included)
	}
	r.merge(result, globals)
	return result, nil
}

// Eval evaluates a script and returns only the globals it defines
func (r *Runner) Eval(ctx context.Context, path string, env map[string]any) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	scope, err := r.predeclared(env)
	if err != nil {
		return nil, &EvalError{Path: abs, Err: err}
	}

	globals, err := r.exec(ctx, abs, scope, &includeState{})
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	r.merge(result, globals)
	return result, nil
}

type includeState struct {
	globals []starlark.StringDict
	loaded  map[string]starlark.StringDict
}

func (r *Runner) exec(ctx context.Context, path string, scope starlark.StringDict, includes *includeState) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &EvalError{Path: path, Err: err}
	}

	thread := r.newThread(ctx, filepath.Dir(path))
	thread.SetLocal(localScope, scope)
	thread.SetLocal(localIncludes, includes)
	thread.Load = r.load

	if ctx != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel("interrupted")
			case <-done:
			}
		}()
	}

	globals, err := starlark.ExecFile(thread, path, src, scope)
	if err != nil {
		return nil, r.wrapError(path, err)
	}
	return globals, nil
}

// load implements the load statement relative to the loading script
func (r *Runner) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	path := r.resolvePath(thread, module)
	includes, _ := thread.Local(localIncludes).(*includeState)
	if includes == nil {
		includes = &includeState{}
	}
	if includes.loaded == nil {
		includes.loaded = map[string]starlark.StringDict{}
	}
	if globals, ok := includes.loaded[path]; ok {
		return globals, nil
	}

	scope, _ := thread.Local(localScope).(starlark.StringDict)
	ctx, _ := thread.Local(localContext).(context.Context)
	globals, err := r.exec(ctx, path, scope, includes)
	if err != nil {
		return nil, err
	}
	includes.loaded[path] = globals
	includes.globals = append(includes.globals, globals)
	return globals, nil
}

func (r *Runner) newThread(ctx context.Context, dir string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: "releng",
		Print: func(_ *starlark.Thread, msg string) {
			if r.Log != nil {
				r.Log.Info(msg)
			}
		},
	}
	if ctx == nil {
		ctx = context.Background()
	}
	thread.SetLocal(localContext, ctx)
	thread.SetLocal(localDir, dir)
	return thread
}

func (r *Runner) resolvePath(thread *starlark.Thread, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if dir, _ := thread.Local(localDir).(string); dir != "" {
		return filepath.Join(dir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func (r *Runner) predeclared(env map[string]any) (starlark.StringDict, error) {
	scope := make(starlark.StringDict, len(env)+len(r.helpers()))
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := ToStarlark(env[k])
		if err != nil {
			return nil, fmt.Errorf("environment value %s: %w", k, err)
		}
		scope[k] = v
	}
	for name, fn := range r.helpers() {
		scope[name] = fn
	}
	return scope, nil
}

func (r *Runner) merge(dst map[string]any, globals starlark.StringDict) {
	for name, value := range globals {
		if v, ok := FromStarlark(value, r); ok {
			dst[name] = v
		}
	}
}
