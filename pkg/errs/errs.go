// Package errs implements the structured error taxonomy described in
// spec.md §7: every failure surfaced across Store, TaskBazaar and MeshNode
// carries a Kind so callers (CLI, admin HTTP, dispatcher) can decide how to
// react without parsing message strings.
package errs

import "fmt"

// Kind classifies a failure.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	NotFound            Kind = "not_found"
	Unauthorized        Kind = "unauthorized"
	InsufficientBalance Kind = "insufficient_balance"
	Timeout             Kind = "timeout"
	Transport           Kind = "transport"
	StoreBackend        Kind = "store_backend"
)

// Error is a structured error carrying a Kind, a short human message and an
// optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a structured error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a structured error around an underlying cause. Returns nil
// if cause is nil, mirroring synnergy-network/pkg/utils.Wrap.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, or "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
