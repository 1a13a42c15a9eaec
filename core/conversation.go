package core

import (
	"sync"

	"github.com/google/uuid"
)

// Exchange is one completed prompt/response pair within a conversation.
type Exchange struct {
	Prompt   string `json:"prompt"`
	System   string `json:"system"`
	Response string `json:"response"`
}

// Conversation is the per-player handle handed to the backend on every call.
// It remembers prior exchanges so a backend can present the player's own
// history back to the model. It is safe for concurrent access.
//
// Contract:
//   - Exchanges returns a copy
//   - Clone performs a deep copy for safe divergence
type Conversation struct {
	ID        string
	Model     string
	exchanges []Exchange
	mu        sync.RWMutex
}

// NewConversation creates an empty conversation with a time-ordered id.
func NewConversation() *Conversation {
	return &Conversation{ID: NewID()}
}

// RestoreConversation rebuilds a conversation from persisted exchanges.
func RestoreConversation(id, model string, exchanges []Exchange) *Conversation {
	c := &Conversation{ID: id, Model: model, exchanges: make([]Exchange, len(exchanges))}
	copy(c.exchanges, exchanges)

	return c
}

// AddExchange appends a completed exchange.
func (c *Conversation) AddExchange(ex Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, ex)
}

// Exchanges returns a copy of the exchange history.
func (c *Conversation) Exchanges() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Exchange, len(c.exchanges))
	copy(out, c.exchanges)

	return out
}

// Len returns the number of completed exchanges.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.exchanges)
}

// Last returns the most recent exchange, if any.
func (c *Conversation) Last() (Exchange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.exchanges) == 0 {
		return Exchange{}, false
	}

	return c.exchanges[len(c.exchanges)-1], true
}

// Clone returns a deep copy of the conversation (except the mutex).
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RestoreConversation(c.ID, c.Model, c.exchanges)
}

// NewID returns a new lowercase, time-ordered unique identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
