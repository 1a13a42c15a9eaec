package core

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientBackend classifies any failure of a single backend call.
	// The underlying cause is kept for logging only; retry policy treats all
	// causes alike.
	ErrTransientBackend = errors.New("transient backend failure")

	// ErrExhaustedRetries is matched by ExhaustedRetriesError.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrPersistence is matched by PersistenceError.
	ErrPersistence = errors.New("persistence failure")

	// ErrResumeNotFound is matched by ResumeNotFoundError.
	ErrResumeNotFound = errors.New("resume conversation not found")
)

// TransientError wraps a failed backend call.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransientBackend, e.Err)
}

// Unwrap exposes the original cause.
func (e *TransientError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransientBackend) hold.
func (e *TransientError) Is(target error) bool { return target == ErrTransientBackend }

// ExhaustedRetriesError is fatal to the current round. It names the player
// that could not be served.
type ExhaustedRetriesError struct {
	Player   string
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("ran out of tries while generating response for player %s after %d attempts", e.Player, e.Attempts)
}

// Unwrap exposes the last transient failure.
func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Is makes errors.Is(err, ErrExhaustedRetries) hold.
func (e *ExhaustedRetriesError) Is(target error) bool { return target == ErrExhaustedRetries }

// PersistenceError reports a failed append to the transcript sink. The
// response it refers to has still been delivered.
type PersistenceError struct {
	RecordID string
	Player   string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist response %s for player %s: %v", e.RecordID, e.Player, e.Err)
}

// Unwrap exposes the sink error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) hold.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ResumeNotFoundError is returned at session construction when a resume id
// is unknown to the loader.
type ResumeNotFoundError struct {
	Player         string
	ConversationID string
	Err            error
}

func (e *ResumeNotFoundError) Error() string {
	return fmt.Sprintf("cannot resume player %s: conversation %s not found", e.Player, e.ConversationID)
}

// Unwrap exposes the loader error.
func (e *ResumeNotFoundError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrResumeNotFound) hold.
func (e *ResumeNotFoundError) Is(target error) bool { return target == ErrResumeNotFound }
