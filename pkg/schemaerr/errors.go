// Package schemaerr defines the structured errors returned by every schema
// registry operation.
package schemaerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the API boundary.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindStorage     Kind = "storage"
	KindLockTimeout Kind = "lock_timeout"
)

// Error is a kind-tagged error with optional structured details.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports input that can be fixed by the caller.
func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// Conflict reports a duplicate or stale reference.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown schema, field, record or version.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure.
func Storage(err error, message string) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// LockTimeout reports that the per-schema lock could not be acquired in time.
func LockTimeout(schemaID string, err error) *Error {
	return &Error{Kind: KindLockTimeout, Message: fmt.Sprintf("timed out waiting for lock on schema %s", schemaID), Err: err}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap returns err unchanged when it already carries a kind and otherwise
// classifies it as a storage failure.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Storage(err, message)
}

// Bounded classifies the failure of an operation run under ctx. A storage
// failure after the deadline expired is reported as a validation error,
// since the operation's transaction was rolled back. Anything else goes
// through Wrap.
func Bounded(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if (kind == "" || kind == KindStorage) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Validation("operation timed out and was rolled back", map[string]any{"cause": err.Error()})
	}
	return Wrap(err, "storage failure")
}

// HTTPStatus maps err onto the status code the API layer should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindLockTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
