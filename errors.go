package imgcrush

import (
	"errors"
	"fmt"
)

// Kind classifies an Error and determines the process exit code.
type Kind int

const (
	// KindGeneral covers codec and device failures.
	KindGeneral Kind = iota
	// KindInvalidInput covers bad paths, unknown formats and malformed specs.
	KindInvalidInput
	// KindPermissionDenied covers unreadable inputs and unwritable outputs.
	KindPermissionDenied
	// KindDiskFull covers the pre-flight check and failed writes.
	KindDiskFull
	// KindLicense is reserved for the licensing layer.
	KindLicense
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindPermissionDenied:
		return "permission denied"
	case KindDiskFull:
		return "disk full"
	case KindLicense:
		return "license invalid"
	default:
		return "general error"
	}
}

// ExitCode returns the process exit status for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindInvalidInput:
		return 2
	case KindPermissionDenied:
		return 3
	case KindLicense:
		return 4
	default:
		return 1
	}
}

// Error is the typed failure returned by every core operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the process exit status for the error.
func (e *Error) ExitCode() int { return e.Kind.ExitCode() }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrDiskFull) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrGeneral          = &Error{Kind: KindGeneral}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrDiskFull         = &Error{Kind: KindDiskFull}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, nil, format, args...)
}

// PermissionDenied builds a KindPermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return newError(KindPermissionDenied, nil, format, args...)
}

// DiskFull builds a KindDiskFull error.
func DiskFull(format string, args ...any) *Error {
	return newError(KindDiskFull, nil, format, args...)
}

// General builds a KindGeneral error wrapping err.
func General(err error, format string, args ...any) *Error {
	return newError(KindGeneral, err, format, args...)
}

// AsError returns err as an *Error, wrapping unknown errors as KindGeneral.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindGeneral, Msg: err.Error()}
}

// ExitCode returns the exit status for any error (0 for nil).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return AsError(err).ExitCode()
}
