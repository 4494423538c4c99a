package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to the user. Every failure returned by an
// engine component wraps one of these so callers can test with errors.Is.
var (
	// ErrConfiguration indicates a missing key, invalid type or conflicting setting
	ErrConfiguration = errors.New("configuration error")

	// ErrDependency indicates a cycle, missing package or self-reference
	ErrDependency = errors.New("dependency error")

	// ErrPrerequisite indicates a missing host tool or module
	ErrPrerequisite = errors.New("prerequisite error")

	// ErrSourceAcquisition indicates a fetch could not obtain sources
	ErrSourceAcquisition = errors.New("source acquisition error")

	// ErrIntegrity indicates a hash, signature or path-traversal failure
	ErrIntegrity = errors.New("integrity error")

	// ErrExtraction indicates an archive could not be extracted
	ErrExtraction = errors.New("extraction error")

	// ErrStage indicates an external tool returned a failure during a stage
	ErrStage = errors.New("stage error")

	// ErrIO indicates a directory or file operation failed
	ErrIO = errors.New("i/o error")

	// ErrUserAbort indicates the run was interrupted
	ErrUserAbort = errors.New("user abort")
)

// KindError attaches an error kind to an underlying error
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *KindError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A nil err stays nil and an error already carrying
// kind is returned unchanged.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &KindError{Kind: kind, Err: err}
}

// Errorf formats a new error tagged with kind
func Errorf(kind error, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first known kind carried by err, or nil
func KindOf(err error) error {
	for _, kind := range []error{
		ErrUserAbort, ErrConfiguration, ErrDependency, ErrPrerequisite,
		ErrSourceAcquisition, ErrIntegrity, ErrExtraction, ErrStage, ErrIO,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
