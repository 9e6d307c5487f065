package apperrors

import (
	"errors"
)

// appError implements the apperrors.Error interface. It provides a concrete implementation
// of the Error interface with support for error wrapping, status codes, machine codes,
// and remediation hints.
type appError struct {
	msg           string  // primary error message
	base          error   // base error for errors.Is/As compatibility
	wrappedErrors []error // additional wrapped errors
	statuscode    int     // HTTP status code
	code          string  // server-supplied machine code
	hint          string  // remediation hint, additive to the message
	prefix        string  // optional message prefix
}

// Error returns the formatted error message without mutating state.
// The message includes the prefix if set. Hints are never folded into
// the message; callers render them separately.
func (e *appError) Error() string {
	msg := e.msg
	if e.prefix != "" {
		msg = e.prefix + ": " + msg
	}
	return msg
}

// Unwrap returns the base error for compatibility with errors.Is / errors.As.
func (e *appError) Unwrap() error {
	return e.base
}

// UnwrapAll returns all wrapped errors in the order they were added.
func (e *appError) UnwrapAll() []error {
	return e.wrappedErrors
}

// Msg creates a new error with a new message and wraps the original error.
// The new error inherits status code, machine code, and hint from the original.
func (e *appError) Msg(msg string) Error {
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: append([]error{e}, e.wrappedErrors...),
		statuscode:    e.statuscode,
		code:          e.code,
		hint:          e.hint,
	}
}

// New creates a fresh error using the current error as a template.
// The new error inherits status code, machine code, and hint but starts
// with a new message.
func (e *appError) New(msg string) Error {
	return &appError{
		msg:        msg,
		base:       e,
		statuscode: e.statuscode,
		code:       e.code,
		hint:       e.hint,
	}
}

// MsgErr creates a new error with a message and wraps additional errors.
// The new error inherits status code, machine code, and hint from the original.
func (e *appError) MsgErr(msg string, errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           msg,
		base:          e,
		wrappedErrors: all,
		statuscode:    e.statuscode,
		code:          e.code,
		hint:          e.hint,
	}
}

// Err creates a new error by attaching additional errors to the current error.
// The new error maintains the original message and metadata.
func (e *appError) Err(errs ...error) Error {
	all := append([]error{e}, errs...)
	return &appError{
		msg:           e.msg,
		base:          e,
		wrappedErrors: all,
		statuscode:    e.statuscode,
		code:          e.code,
		hint:          e.hint,
	}
}

// Prefix returns a shallow copy with an updated prefix.
// The original error remains unchanged.
func (e *appError) Prefix(p string) Error {
	cp := *e
	cp.prefix = p
	return &cp
}

// SetStatusCode returns a shallow copy with an updated status code.
// The original error remains unchanged.
func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statuscode = code
	return &cp
}

// StatusCode returns the current HTTP status code.
func (e *appError) StatusCode() int {
	return e.statuscode
}

// SetCode returns a shallow copy with an updated machine code.
// The original error remains unchanged.
func (e *appError) SetCode(code string) Error {
	cp := *e
	cp.code = code
	return &cp
}

// Code returns the server-supplied machine code.
func (e *appError) Code() string {
	return e.code
}

// SetHint returns a shallow copy with an updated remediation hint.
// The original error remains unchanged.
func (e *appError) SetHint(hint string) Error {
	cp := *e
	cp.hint = hint
	return &cp
}

// Hint returns the remediation hint.
func (e *appError) Hint() string {
	return e.hint
}

// New creates a root-level appError with the given message.
// This is the entry point for creating new errors.
func New(msg string) Error {
	return &appError{
		msg: msg,
	}
}

// Is checks if the error is equal to the target error by checking
// both the base error and all wrapped errors.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
