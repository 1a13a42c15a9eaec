package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("rate limited")

	transient := &TransientError{Err: cause}
	assert.ErrorIs(t, transient, ErrTransientBackend)
	assert.ErrorIs(t, transient, cause)

	exhausted := &ExhaustedRetriesError{Player: "Alice", Attempts: 3, Last: transient}
	assert.ErrorIs(t, exhausted, ErrExhaustedRetries)
	assert.ErrorIs(t, exhausted, ErrTransientBackend)
	assert.Contains(t, exhausted.Error(), "Alice")

	wrapped := fmt.Errorf("round 2: %w", exhausted)
	var target *ExhaustedRetriesError
	assert.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "Alice", target.Player)

	persist := &PersistenceError{RecordID: "r1", Player: "Bob", Err: cause}
	assert.ErrorIs(t, persist, ErrPersistence)
	assert.NotErrorIs(t, persist, ErrExhaustedRetries)

	resume := &ResumeNotFoundError{Player: "Bob", ConversationID: "missing"}
	assert.ErrorIs(t, resume, ErrResumeNotFound)
	assert.Contains(t, resume.Error(), "missing")
}
