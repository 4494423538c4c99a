package script

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// EvalError reports a script that failed to evaluate
type EvalError struct {
	Path      string
	Err       error
	Backtrace string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("failed to evaluate script %s: %v", e.Path, e.Err)
}

// Unwrap exposes the configuration kind and the cause
func (e *EvalError) Unwrap() []error {
	return []error{types.ErrConfiguration, e.Err}
}

// ExitError is raised by a script requesting the process to exit
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("script requested exit (code %d)", e.Code)
}

func (r *Runner) wrapError(path string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr
	}

	wrapped := &EvalError{Path: path, Err: err}
	var starlarkErr *starlark.EvalError
	if errors.As(err, &starlarkErr) {
		wrapped.Backtrace = starlarkErr.Backtrace()
		wrapped.Err = errors.New(starlarkErr.Msg)
	}
	return wrapped
}
