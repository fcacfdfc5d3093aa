// Package errs provides the structured error kinds shared across the
// orchestration core. An Error preserves message and causal context while
// still implementing the standard error interface, and carries a Kind so
// coordinators can decide whether to retry, fall back, or surface the
// failure verbatim without resorting to string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the validation and error-recovery
// pipeline reasons about it. Kinds are not Go types: they are a closed
// enumeration carried on Error so a single error value can be inspected
// without a type switch per call site.
type Kind string

const (
	// KindValidation marks a structural check failure. Never retried.
	KindValidation Kind = "validation"
	// KindTransient marks an I/O or provider hiccup eligible for retry.
	KindTransient Kind = "transient"
	// KindAdmission marks a concurrency-ceiling rejection. Returned immediately.
	KindAdmission Kind = "admission"
	// KindIntegrity marks a checksum mismatch or deserialization failure. Never retried.
	KindIntegrity Kind = "integrity"
	// KindUnsupported marks a closed-set enum value rejected outright.
	KindUnsupported Kind = "unsupported"
	// KindCancelled marks a caller-initiated termination.
	KindCancelled Kind = "cancelled"
	// KindTerminal marks exhaustion of primary, fallback, and degradation.
	KindTerminal Kind = "terminal"
)

// Error is a structured failure that preserves a Kind and an optional
// wrapped cause, enabling error chains with errors.Is/As while exposing the
// classification coordinators need.
type Error struct {
	// Kind classifies the failure per the table in the error-handling design.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, enabling error chains with errors.Is/As.
	Cause error
	// Attempts records how many attempts were made, when relevant (retry exhaustion).
	Attempts int
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf formats according to a format specifier and returns an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs an Error of the given kind wrapping cause. If message is
// empty and cause is non-nil, the cause's message is used.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithAttempts returns a copy of e with Attempts set, for retry-exhaustion errors.
func (e *Error) WithAttempts(n int) *Error {
	out := *e
	out.Attempts = n
	return &out
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, enabling
// callers to write errors.Is(err, errs.New(errs.KindTransient, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
