// Package rudaqerr implements the error taxonomy from the error handling
// design: a closed set of Kinds, each carrying a recoverability hint used by
// the RunEngine and the config-driven serial driver to decide between retry,
// fault, and abort.
package rudaqerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the error handling design.
type Kind string

const (
	// KindConfiguration covers invalid declarations, unknown capability
	// mappings, and missing parameters. Detected before any I/O; fatal at
	// load time.
	KindConfiguration Kind = "configuration"
	// KindValidation covers out-of-range parameters or positions detected
	// at runtime. Fatal to the current Msg, recoverable for the run.
	KindValidation Kind = "validation"
	// KindTransport covers timeouts, connection loss, and malformed
	// responses. Recoverable per retry policy until exhausted.
	KindTransport Kind = "transport"
	// KindProtocol covers a device reporting a known error code.
	// Recoverable or fatal per the error-codes table.
	KindProtocol Kind = "protocol"
	// KindInvariant covers internal contract violations (missing
	// descriptor, uid mismatch, ring overflow under block policy).
	// Always fatal.
	KindInvariant Kind = "invariant"
	// KindCancellation is not a failure; it surfaces as exit_status=abort.
	KindCancellation Kind = "cancellation"
)

// Error is the single error type carried across component boundaries.
type Error struct {
	Kind        Kind
	Op          string // component/operation that produced the error
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, recoverable bool, err error) *Error {
	return &Error{Kind: kind, Op: op, Recoverable: recoverable, Err: err}
}

// Configuration wraps err as a fatal KindConfiguration error.
func Configuration(op string, err error) *Error {
	return New(KindConfiguration, op, false, err)
}

// Validation wraps err as a KindValidation error, fatal to the Msg but
// recoverable for the run.
func Validation(op string, err error) *Error {
	return New(KindValidation, op, true, err)
}

// Transport wraps err as a KindTransport error whose recoverability depends
// on whether retries remain.
func Transport(op string, err error, recoverable bool) *Error {
	return New(KindTransport, op, recoverable, err)
}

// Protocol wraps err as a KindProtocol error per the error-codes table.
func Protocol(op string, err error, recoverable bool) *Error {
	return New(KindProtocol, op, recoverable, err)
}

// Invariant wraps err as an always-fatal KindInvariant error.
func Invariant(op string, err error) *Error {
	return New(KindInvariant, op, false, err)
}

// Cancellation wraps ctx.Err() (or similar) as a cooperative cancellation,
// never treated as a run failure.
func Cancellation(op string, err error) *Error {
	return New(KindCancellation, op, true, err)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether err, if a classified Error, permits retry.
func Recoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}
