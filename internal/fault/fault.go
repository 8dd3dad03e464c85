// Package fault defines the structured error taxonomy shared by the
// resource manager and the protocol dispatcher.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are stable: wrapping and enrichment
// never rewrite them.
type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindResourceBusy         Kind = "RESOURCE_BUSY"
	KindCapacityExceeded     Kind = "CAPACITY_EXCEEDED"
	KindConfigurationInvalid Kind = "CONFIGURATION_INVALID"
	KindTimedOut             Kind = "TIMED_OUT"
	KindEngineUnavailable    Kind = "ENGINE_UNAVAILABLE"
	KindProtocolError        Kind = "PROTOCOL_ERROR"
	KindInternal             Kind = "INTERNAL"
)

// Error is a classified failure with optional structured context
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it as the cause. If err
// is already classified its kind wins and ctx entries are merged in.
func Wrap(err error, kind Kind, msg string) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Message: msg, cause: err}
}

// With attaches one context entry, returning the error for chaining
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of a classified error, or KindInternal for
// anything unclassified. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
