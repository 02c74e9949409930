package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type threaded through every component:
// tool handlers, the pipeline, the job worker. It carries exactly the
// fields the invoke envelope needs plus an unwrap chain for
// %w-style composition.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Details carries optional key-value context for logging; it is
	// never serialized into the wire envelope.
	Details map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, &Error{Code: X}) comparisons by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a key-value detail and returns the error for
// chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error from an existing error, keeping it as Cause.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Cause: err}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return Newf(Validation, format, args...) }
func NotFoundf(format string, args ...any) *Error    { return Newf(NotFound, format, args...) }
func Upstreamf(format string, args ...any) *Error    { return Newf(Upstream, format, args...) }
func Invariantf(format string, args ...any) *Error   { return Newf(Invariant, format, args...) }

// CodeOf extracts the Code from err, or Unknown if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsRetryable reports whether the job worker should retry err.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// IsTerminal reports whether the job worker must never retry err.
func IsTerminal(err error) bool {
	return CodeOf(err).Terminal()
}
