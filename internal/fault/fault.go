// Package fault carries the error taxonomy shared across the orchestrator:
// validation errors are rejected before any external call, domain errors abort
// the workflow, and transient errors are recovered locally or left to the
// engine's redelivery.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the retry/abort policy applied to it.
type Kind string

const (
	// KindValidation marks bad input rejected before any call is made.
	KindValidation Kind = "validation"
	// KindDomain marks a logical inconsistency that retrying cannot fix.
	KindDomain Kind = "domain"
	// KindTransient marks a failure that may succeed on redelivery.
	KindTransient Kind = "transient"
)

// Error is the tagged error type used across the orchestrator.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindTransient for untagged errors.
// Untagged errors come from collaborators and the network, where retrying
// is the safe default.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
