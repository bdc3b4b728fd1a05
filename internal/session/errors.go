package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Post once a session no longer accepts
	// messages.
	ErrClosed = errors.New("session closed")

	// ErrInitialization matches every InitializationError via errors.Is.
	ErrInitialization = errors.New("session initialization failed")
)

// InitializationError reports that the readiness step failed. The session
// never processes a message after returning it.
type InitializationError struct {
	SessionID string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("session %s: initialization failed: %v", e.SessionID, e.Err)
}

// Unwrap exposes both ErrInitialization and the loader's error.
func (e *InitializationError) Unwrap() []error {
	return []error{ErrInitialization, e.Err}
}
