// Package apperr defines the error kinds surfaced by the listing backend and
// their mapping onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation             Kind = "VALIDATION_ERROR"
	KindNotFound               Kind = "NOT_FOUND"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindPreconditionFailed     Kind = "PRECONDITION_FAILED"
	KindConflict               Kind = "CONFLICT"
	KindUpload                 Kind = "UPLOAD_ERROR"
	KindStoreTimeout           Kind = "STORE_TIMEOUT"
	KindStore                  Kind = "STORE_ERROR"
	KindInternal               Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string) *Error {
	return New(KindNotFound, what+" not found")
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidStateTransition, fmt.Sprintf("cannot move from %q to %q", from, to))
}

func PreconditionFailed(message string) *Error {
	return New(KindPreconditionFailed, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Upload(err error) *Error {
	return Wrap(KindUpload, "media upload failed", err)
}

// KindOf reports the kind of err. Errors that were never classified are
// treated as internal, except context deadlines which surface as store
// timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStoreTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human readable message for err without the wrapped
// cause, which may carry internal detail.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

func Status(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidStateTransition, KindPreconditionFailed, KindConflict:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
