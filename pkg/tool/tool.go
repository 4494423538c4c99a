// Package tool wraps the host executables releng-tool drives
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Tool is a host executable with the environment it should be invoked with
type Tool struct {
	// Name is the executable name (or path)
	Name string

	// Env holds variables always applied when invoking the tool
	Env map[string]string

	// Sanitize lists variables removed from the inherited environment
	Sanitize []string
}

// New creates a tool for an executable
func New(name string) *Tool {
	return &Tool{Name: name}
}

// Options control a single invocation
type Options struct {
	// Dir is the working directory (current directory when empty)
	Dir string

	// Environ is the base environment (process environment when nil)
	Environ []string

	// Env is applied over the base environment
	Env map[string]string

	// Stdout and Stderr default to the process streams (or are
	// discarded when Quiet is set)
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	Quiet  bool

	// Log receives command tracing; LogArgs/LogEnv raise it from debug
	// to verbose output
	Log     logger.Logger
	LogArgs bool
	LogEnv  bool
}

// Exists reports whether the executable can be found
func (t *Tool) Exists() bool {
	_, ok := utils.Which(t.Name)
	return ok
}

// Command builds the exec.Cmd for an invocation
func (t *Tool) Command(ctx context.Context, args []string, opts *Options) *exec.Cmd {
	if opts == nil {
		opts = &Options{}
	}

	cmd := exec.CommandContext(ctx, t.Name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = t.environ(opts)
	cmd.Stdin = opts.Stdin

	cmd.Stdout, cmd.Stderr = opts.Stdout, opts.Stderr
	if opts.Quiet {
		if cmd.Stdout == nil {
			cmd.Stdout = io.Discard
		}
		if cmd.Stderr == nil {
			cmd.Stderr = io.Discard
		}
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	t.trace(args, opts)
	return cmd
}

// Execute runs the tool, failing with a stage error on a non-zero exit
func (t *Tool) Execute(ctx context.Context, args []string, opts *Options) error {
	cmd := t.Command(ctx, args, opts)
	if err := cmd.Run(); err != nil {
		return t.failure(ctx, args, err)
	}
	return nil
}

// Output runs the tool and returns its trimmed standard output
func (t *Tool) Output(ctx context.Context, args []string, opts *Options) (string, error) {
	var local Options
	if opts != nil {
		local = *opts
	}
	var stdout, stderr bytes.Buffer
	local.Stdout = &stdout
	if local.Stderr == nil {
		local.Stderr = &stderr
	}

	cmd := t.Command(ctx, args, &local)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" && local.Log != nil {
			local.Log.Debug(msg)
		}
		return strings.TrimSpace(stdout.String()), t.failure(ctx, args, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Succeeds runs the tool quietly and reports whether it returned zero
func (t *Tool) Succeeds(ctx context.Context, args []string, opts *Options) bool {
	var local Options
	if opts != nil {
		local = *opts
	}
	local.Quiet = true
	local.Stdout, local.Stderr = nil, nil
	return t.Execute(ctx, args, &local) == nil
}

func (t *Tool) failure(ctx context.Context, args []string, err error) error {
	if ctx.Err() != nil {
		return types.Wrap(types.ErrUserAbort, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.Errorf(types.ErrStage, "%s exited with code %d", t.describe(args), exitErr.ExitCode())
	}
	return types.Wrap(types.ErrStage, fmt.Errorf("unable to invoke %s: %w", t.Name, err))
}

func (t *Tool) describe(args []string) string {
	return shellquote.Join(append([]string{t.Name}, args...)...)
}

func (t *Tool) environ(opts *Options) []string {
	base := opts.Environ
	if base == nil {
		base = os.Environ()
	}

	env := make(map[string]string, len(base))
	var order []string
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}
	for _, k := range t.Sanitize {
		delete(env, k)
	}
	for _, overlay := range []map[string]string{t.Env, opts.Env} {
		for k, v := range overlay {
			if _, seen := env[k]; !seen {
				order = append(order, k)
			}
			env[k] = v
		}
	}

	result := make([]string, 0, len(env))
	for _, k := range order {
		if v, ok := env[k]; ok {
			result = append(result, k+"="+v)
			delete(env, k)
		}
	}
	return result
}

func (t *Tool) trace(args []string, opts *Options) {
	if opts.Log == nil {
		return
	}

	line := t.describe(args)
	if opts.Dir != "" {
		line += " (in " + opts.Dir + ")"
	}
	if opts.LogArgs {
		opts.Log.Verbose("executing: " + line)
	} else {
		opts.Log.Debug("executing: " + line)
	}

	if len(opts.Env) > 0 {
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entry := fmt.Sprintf("  %s=%s", k, opts.Env[k])
			if opts.LogEnv {
				opts.Log.Verbose(entry)
			} else {
				opts.Log.Debug(entry)
			}
		}
	}
}

// SplitArgs splits a shell-style argument string
func SplitArgs(value string) ([]string, error) {
	args, err := shellquote.Split(value)
	if err != nil {
		return nil, types.Errorf(types.ErrConfiguration, "invalid arguments %q: %v", value, err)
	}
	return args, nil
}
