// Package errs defines the error taxonomy shared by the clinic services.
// Callers classify failures with errors.Is against the sentinels below; the
// HTTP layer maps each kind to a status code in one place.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing required input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate idempotency key or a concurrent
	// operation racing on the same aggregate.
	ErrConflict = errors.New("conflict")
	// ErrUpstreamTimeout marks the generative backend not answering within
	// the bounded wait, retries included.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstream marks a non-success response from the generative backend
	// after retries are exhausted.
	ErrUpstream = errors.New("upstream error")
	// ErrParse marks a model reply missing a required section.
	ErrParse = errors.New("parse error")
	// ErrPersistence marks a storage failure during create or attach.
	ErrPersistence = errors.New("persistence error")
)

// Validationf returns a formatted error wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// NotFoundf returns a formatted error wrapping ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Conflictf returns a formatted error wrapping ErrConflict.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, args...)...)
}

// Parsef returns a formatted error wrapping ErrParse.
func Parsef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrParse}, args...)...)
}

// Persistence wraps a storage-layer error, preserving the cause.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
