package transcript

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxwelljoslyn/gm-trainer/core"
)

// InMemoryStore is a naive process-local Store.
//
// Concurrency: protected by RWMutex. Records are copied on the way in and out
// so callers never share memory with the store.
type InMemoryStore struct {
	mu            sync.RWMutex
	ids           map[string]struct{}
	conversations map[string][]core.Record // conversationID -> records
	sessions      map[string][]core.Record // sessionID -> records
	closed        bool
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		ids:           make(map[string]struct{}),
		conversations: make(map[string][]core.Record),
		sessions:      make(map[string][]core.Record),
	}
}

// Append stores rec. Record ids must be unique.
func (m *InMemoryStore) Append(ctx context.Context, rec core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := Validate(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	if _, exists := m.ids[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}

	m.ids[rec.ID] = struct{}{}
	m.conversations[rec.ConversationID] = append(m.conversations[rec.ConversationID], rec)
	if rec.SessionID != "" {
		m.sessions[rec.SessionID] = append(m.sessions[rec.SessionID], rec)
	}

	return nil
}

// LoadConversation implements Loader.
func (m *InMemoryStore) LoadConversation(ctx context.Context, conversationID string) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.conversations[conversationID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	out := append([]core.Record(nil), records...)
	sortRecords(out)

	return out, nil
}

// SessionRecords implements Store.
func (m *InMemoryStore) SessionRecords(ctx context.Context, sessionID string) ([]core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]core.Record{}, m.sessions[sessionID]...)
	sortRecords(out)

	return out, nil
}

// Len returns the total number of stored records.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.ids)
}

// Close marks the store closed; further appends fail.
func (m *InMemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	return nil
}
