package transcript

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/maxwelljoslyn/gm-trainer/core"
)

// ErrConversationNotFound is returned by Loader implementations when no
// record carries the requested conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// Sink records successful responses. Implementations must tolerate
// concurrent appends from independent sessions.
type Sink interface {
	Append(ctx context.Context, rec core.Record) error
}

// Loader retrieves the records of one conversation in creation order.
type Loader interface {
	LoadConversation(ctx context.Context, conversationID string) ([]core.Record, error)
}

// Store is the full persistence surface used by the front-ends.
type Store interface {
	Sink
	Loader

	// SessionRecords returns every record of a session in creation order.
	SessionRecords(ctx context.Context, sessionID string) ([]core.Record, error)

	// Close releases underlying resources.
	Close() error
}

// Validate checks that a record can be stored.
func Validate(rec core.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is required")
	}

	if strings.TrimSpace(rec.ConversationID) == "" {
		return fmt.Errorf("record %s: conversation id is required", rec.ID)
	}

	return nil
}

// Restore rebuilds a conversation handle from its records. The model name is
// taken from the most recent record.
func Restore(conversationID string, records []core.Record) *core.Conversation {
	exchanges := make([]core.Exchange, len(records))
	model := ""

	for i, r := range records {
		exchanges[i] = r.Exchange()
		if r.Model != "" {
			model = r.Model
		}
	}

	return core.RestoreConversation(conversationID, model, exchanges)
}

// sortRecords orders records by creation time, keeping insertion order for
// ties.
func sortRecords(records []core.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
