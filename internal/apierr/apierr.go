// Package apierr defines the kind-tagged error taxonomy shared by every
// replication-core component, and the HTTP status each kind maps to.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error categories. Components never return bare
// errors across a package boundary; they wrap the cause in a *Error with
// one of these kinds so callers (REST handlers, the scheduler, the transfer
// engine) can branch on category without string matching.
type Kind string

const (
	MalformedInput    Kind = "malformed_input"
	NotFound          Kind = "not_found"
	ConflictState     Kind = "conflict_state"
	IntegrityError    Kind = "integrity_error"
	TransportError    Kind = "transport_error"
	ResourceExhausted Kind = "resource_exhausted"
	PreemptedPaused   Kind = "preempted_paused"
	Forbidden         Kind = "forbidden"
)

// Error wraps a cause with a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise reports false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind matches k.
func Is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// HTTPStatus maps a Kind to the status code the REST surface should return.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case MalformedInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ConflictState:
		return http.StatusConflict
	case IntegrityError:
		return http.StatusConflict
	case TransportError:
		return http.StatusBadGateway
	case ResourceExhausted:
		return http.StatusServiceUnavailable
	case PreemptedPaused:
		return http.StatusAccepted
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
