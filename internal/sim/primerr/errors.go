package primerr

import (
	"errors"
	"fmt"
)

const (
	// Raised before any simulation progress.
	CodeInvalidPrimitive = "E_INVALID_PRIMITIVE"
	CodeNotImplemented   = "E_NOT_IMPLEMENTED"
	CodeMissingParameter = "E_MISSING_PARAMETER"
	CodeObjectNotFound   = "E_OBJECT_NOT_FOUND"

	// Raised after partial progress; nothing is rolled back.
	CodePreconditionFailed = "E_PRECONDITION_FAILED"
	CodeSamplingExhausted  = "E_SAMPLING_EXHAUSTED"

	// Converted to a plain failure at the dispatcher.
	CodeTimeout = "E_TIMEOUT"
	CodeEngine  = "E_ENGINE"
)

var knownCodes = map[string]struct{}{
	CodeInvalidPrimitive:   {},
	CodeNotImplemented:     {},
	CodeMissingParameter:   {},
	CodeObjectNotFound:     {},
	CodePreconditionFailed: {},
	CodeSamplingExhausted:  {},
	CodeTimeout:            {},
	CodeEngine:             {},
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

type Error struct {
	Code string
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Code
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidPrimitive   = &Error{Code: CodeInvalidPrimitive}
	ErrNotImplemented     = &Error{Code: CodeNotImplemented}
	ErrMissingParameter   = &Error{Code: CodeMissingParameter}
	ErrObjectNotFound     = &Error{Code: CodeObjectNotFound}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed}
	ErrSamplingExhausted  = &Error{Code: CodeSamplingExhausted}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrEngine             = &Error{Code: CodeEngine}
)

func New(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Engine wraps an error returned by the simulation boundary. Errors that
// already carry a code pass through untouched.
func Engine(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Code: CodeEngine, Op: op, Err: err}
}

// Code returns the taxonomy code of err, or "" for foreign errors.
func Code(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Recoverable reports whether the dispatcher converts err into a plain false.
func Recoverable(err error) bool {
	switch Code(err) {
	case CodeTimeout, CodeEngine:
		return true
	}
	return false
}
