// Package deployerr defines the classified error type shared by all nbdeploy
// components. Every failure surfaced to the CLI carries a Class so the front
// end can pick an exit code and remediation hint without string matching.
package deployerr

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for exit-code mapping and
// operator remediation.
type Class string

const (
	// ClassValidation indicates operator-fixable input problems: bad
	// variable values, schema mismatches, illegal lifecycle transitions.
	// Never retried automatically.
	ClassValidation Class = "validation"

	// ClassBackend indicates that the infrastructure engine reported a
	// failure. The engine's native error is preserved verbatim and the
	// lifecycle stage is rolled back, so re-running the command is safe.
	ClassBackend Class = "backend"

	// ClassConcurrency indicates the project directory is locked by
	// another invocation. Fails fast, no retry.
	ClassConcurrency Class = "concurrency"

	// ClassRemote indicates a failure of a dispatched remote instruction.
	// The RemoteKind distinguishes timeout, unreachable channel, and
	// non-zero completion on the host.
	ClassRemote Class = "remote"

	// ClassStateCorruption indicates the on-disk project state is
	// unreadable or internally inconsistent. Fatal, never auto-repaired.
	ClassStateCorruption Class = "state-corruption"
)

// RemoteKind distinguishes the failure modes of a remote instruction.
type RemoteKind string

const (
	// RemoteTimeout means no terminal state was reached within the
	// configured polling window.
	RemoteTimeout RemoteKind = "timeout"

	// RemoteUnreachable means the control channel itself could not be
	// reached (network or permission failure), distinct from a command
	// failing on the host.
	RemoteUnreachable RemoteKind = "unreachable"

	// RemoteExecution means the remote side reported non-zero completion.
	RemoteExecution RemoteKind = "execution"
)

// Error is a classified error with lifecycle context.
type Error struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Remote is the remote failure kind, set only for ClassRemote.
	Remote RemoteKind `json:"remote,omitempty"`

	// Operation is the lifecycle operation being attempted, if any.
	Operation string `json:"operation,omitempty"`

	// Stage is the lifecycle stage at the time of failure, if known.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" && e.Stage != "" {
		msg = fmt.Sprintf("[%s] %s (operation=%s, stage=%s)", e.Class, e.Message, e.Operation, e.Stage)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s (operation=%s)", e.Class, e.Message, e.Operation)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two classified errors match
// when their Class (and RemoteKind, when set on the target) agree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Remote == "" || e.Remote == t.Remote
}

// WithOperation adds the attempted operation to the error context.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithStage adds the current lifecycle stage to the error context.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// NewValidation creates a validation-class error.
func NewValidation(message string, err error) *Error {
	return &Error{Class: ClassValidation, Message: message, Err: err}
}

// NewBackend creates a backend-class error.
func NewBackend(message string, err error) *Error {
	return &Error{Class: ClassBackend, Message: message, Err: err}
}

// NewConcurrency creates a concurrency-class error.
func NewConcurrency(message string, err error) *Error {
	return &Error{Class: ClassConcurrency, Message: message, Err: err}
}

// NewRemote creates a remote-class error of the given kind.
func NewRemote(kind RemoteKind, message string, err error) *Error {
	return &Error{Class: ClassRemote, Remote: kind, Message: message, Err: err}
}

// NewStateCorruption creates a state-corruption-class error.
func NewStateCorruption(message string, err error) *Error {
	return &Error{Class: ClassStateCorruption, Message: message, Err: err}
}

// ClassOf returns the class of a classified error, or an empty Class when the
// chain holds no *Error.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool { return ClassOf(err) == ClassValidation }

// IsBackend reports whether err is classified as a backend error.
func IsBackend(err error) bool { return ClassOf(err) == ClassBackend }

// IsConcurrency reports whether err is classified as a concurrency error.
func IsConcurrency(err error) bool { return ClassOf(err) == ClassConcurrency }

// IsStateCorruption reports whether err is classified as state corruption.
func IsStateCorruption(err error) bool { return ClassOf(err) == ClassStateCorruption }

// IsRemote reports whether err is classified as a remote error. When kinds
// are given, the remote kind must match one of them.
func IsRemote(err error, kinds ...RemoteKind) bool {
	var e *Error
	if !errors.As(err, &e) || e.Class != ClassRemote {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if e.Remote == k {
			return true
		}
	}
	return false
}
