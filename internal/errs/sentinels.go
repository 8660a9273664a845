// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Error taxonomy of the signing client. Callers match with errors.Is.
var (
	// ErrAuth indicates a missing or rejected credential. Not retryable.
	ErrAuth = errors.New("auth error")

	// ErrValidation indicates a malformed package or request; the caller must fix the input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates no mailbox/envelope matches.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition indicates an operation invoked in the wrong lifecycle state.
	ErrPrecondition = errors.New("precondition failed")

	// ErrTransient indicates a network or server hiccup on an idempotent read; safe to retry.
	ErrTransient = errors.New("transient error")

	// ErrUnknown indicates the outcome of a non-idempotent submission is unknown.
	// The request must be reconciled, never blindly retried.
	ErrUnknown = errors.New("unknown outcome")

	// ErrTimeout indicates a caller deadline elapsed while the envelope was still pending.
	ErrTimeout = errors.New("timeout")

	// ErrConflict indicates a state transition the platform refuses (e.g. leaving a terminal state).
	ErrConflict = errors.New("conflict")
)
