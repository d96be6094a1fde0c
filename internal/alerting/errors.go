package alerting

import (
	"errors"
	"fmt"
)

// Kind classifies an operational error into one of the stable categories
// surfaced to API callers.
type Kind string

// Error kinds. Validation and lifecycle errors are never retried by the
// core; STORE_UNAVAILABLE may follow one internal retry.
const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindInvalidSchedule   Kind = "INVALID_SCHEDULE"
	KindConflict          Kind = "CONFLICT"
	KindStoreUnavailable  Kind = "STORE_UNAVAILABLE"
	KindInternal          Kind = "INTERNAL"
)

// Error carries a stable kind, a human message, and an optional detail map.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.wrapped }

// NewError builds a domain error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// NewErrorf builds a domain error with a formatted message.
func NewErrorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches an underlying cause to a domain error.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, wrapped: cause}
}

// WithDetail sets the optional detail object.
func (e *Error) WithDetail(detail map[string]any) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from err, or KindInternal when err is not a
// domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
