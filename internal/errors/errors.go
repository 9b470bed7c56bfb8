// Package errors provides the error taxonomy used across the packer,
// stager and verifier control loops: Fatal (validation failure at
// startup), Transient (retry) and Integrity (record/archive rollback).
// Each kind is a thin wrapper with an Is* predicate so callers can switch
// on kind instead of string-matching.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New, Wrap, Wrapf, Errorf and Cause are re-exported so that the rest of
// the module never needs to import github.com/pkg/errors directly.
var (
	New    = errors.New
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Errorf creates a new error based on a format string and values.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal wraps an error (or a message) as fatal: a Validation-class error
// that must abort startup, never be retried.
func Fatal(msg string) error {
	return &fatalError{err: errors.New(msg)}
}

// Fatalf creates a fatal error based on a format string and values.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal returns whether msg is a fatal error.
func IsFatal(err error) bool {
	_, ok := err.(*fatalError)
	return ok
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error that is safe to retry: a dropped catalog
// connection, a timed-out HTTP call, a disk momentarily busy. The
// control loop sleeps and retries on the next tick.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf builds a transient error directly from a format string.
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err (or something it wraps) was raised via
// Transient/Transientf.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

type integrityError struct {
	err error
}

func (e *integrityError) Error() string { return e.err.Error() }
func (e *integrityError) Unwrap() error { return e.err }

// Integrity wraps an error describing a digest mismatch, a missing
// archive entry, or a count mismatch between the catalog and the sealed
// container. Integrity errors trigger a record- or archive-level
// rollback, never a process exit.
func Integrity(err error) error {
	if err == nil {
		return nil
	}
	return &integrityError{err: err}
}

// Integrityf builds an integrity error directly from a format string.
func Integrityf(format string, args ...interface{}) error {
	return &integrityError{err: fmt.Errorf(format, args...)}
}

// IsIntegrity reports whether err (or something it wraps) was raised via
// Integrity/Integrityf.
func IsIntegrity(err error) bool {
	var t *integrityError
	return errors.As(err, &t)
}
