// Package apperr defines the stable error kinds surfaced by the NOC engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the HTTP layer.
type Kind string

const (
	// KindConflict means a precondition on entity state was not met.
	KindConflict Kind = "conflict"
	// KindNotFound means a referenced entity does not exist.
	KindNotFound Kind = "not_found"
	// KindValidation means the input was malformed or out of range.
	KindValidation Kind = "validation"
	// KindTransient means a storage or downstream failure; the operation was aborted.
	KindTransient Kind = "transient"
	// KindIntegrity means the ledger failed an integrity check.
	KindIntegrity Kind = "integrity_violation"
)

// Error carries a stable kind plus a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given kind and reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf creates an error with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap translates an internal error to the given kind without leaking detail
// into the reason.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindTransient
// for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
