package model

// ErrCode enumerates the construction/validation failures this package
// can raise. These are distinct from, and map onto, the wire-level
// taxonomy in internal/errors; model sits below every other package
// and depends on none of them.
type ErrCode string

const (
	ErrBadUID    ErrCode = "BAD_UID"
	ErrBadSource ErrCode = "BAD_SOURCE"
	ErrBadUUID   ErrCode = "BAD_UUID"
	ErrEmptyText ErrCode = "EMPTY_TEXT"
)

// ValidationError reports a failed model invariant.
type ValidationError struct {
	Code    ErrCode
	Message string
}

func (e *ValidationError) Error() string {
	return string(e.Code) + ": " + e.Message
}
