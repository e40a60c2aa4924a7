package ollama

import (
	"errors"
	"fmt"
)

// ErrorKind classifies Ollama failures by recoverability.
type ErrorKind int

const (
	// ErrKindConnection covers network failures reaching Ollama. Recoverable.
	ErrKindConnection ErrorKind = iota
	// ErrKindTimeout covers request deadline expiry. Recoverable.
	ErrKindTimeout
	// ErrKindModel covers model-not-found and model execution failures.
	ErrKindModel
	// ErrKindResponse covers malformed or empty responses.
	ErrKindResponse
)

// Error is the typed error returned by the Ollama client. Callers use
// Recoverable to decide between fail-closed and fail-open handling.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ollama: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("ollama: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether retrying later could succeed.
func (e *Error) Recoverable() bool {
	return e.Kind == ErrKindConnection || e.Kind == ErrKindTimeout
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsRecoverable reports whether err is an Ollama error that may succeed on
// retry. Non-Ollama errors are treated as unrecoverable.
func IsRecoverable(err error) bool {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Recoverable()
	}
	return false
}
