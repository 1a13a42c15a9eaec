package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/model"
	"github.com/maxwelljoslyn/gm-trainer/party"
	"github.com/maxwelljoslyn/gm-trainer/retry"
	"github.com/maxwelljoslyn/gm-trainer/session"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/maxwelljoslyn/gm-trainer/turnorder"
	"github.com/stretchr/testify/require"
)

// Harness bundles a built session with the collaborators a test inspects.
type Harness struct {
	Session *session.Session
	Model   *model.MockModel
	Store   *transcript.InMemoryStore
}

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	h := NewSessionBuilder().Narration("A door.").Respond("I open it.", "I wait.").Build(t)
//
// Players default to the built-in party in fixed order; backoff waits are
// skipped.
type SessionBuilder struct {
	narration string
	players   []*core.Player
	outcomes  []model.Outcome
	attempts  int
}

// NewSessionBuilder creates a builder seeded with the default scenario.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{narration: party.Scenario}
}

// Narration sets the opening narration (chainable).
func (b *SessionBuilder) Narration(text string) *SessionBuilder { b.narration = text; return b }

// Players replaces the default party (chainable).
func (b *SessionBuilder) Players(ps ...*core.Player) *SessionBuilder { b.players = ps; return b }

// Respond scripts successful model replies in call order (chainable).
func (b *SessionBuilder) Respond(texts ...string) *SessionBuilder {
	for _, t := range texts {
		b.outcomes = append(b.outcomes, model.Outcome{Text: t})
	}
	return b
}

// Fail scripts n failing model calls (chainable).
func (b *SessionBuilder) Fail(err error, n int) *SessionBuilder {
	for i := 0; i < n; i++ {
		b.outcomes = append(b.outcomes, model.Outcome{Err: err})
	}
	return b
}

// MaxAttempts overrides the retry budget (chainable).
func (b *SessionBuilder) MaxAttempts(n int) *SessionBuilder { b.attempts = n; return b }

// Build wires the session, failing the test on any construction error.
func (b *SessionBuilder) Build(t testing.TB) *Harness {
	t.Helper()

	players := b.players
	if players == nil {
		players = party.Default()
	}

	m := model.NewMockModel("mock-model", "mock")
	m.Enqueue(b.outcomes...)

	store := transcript.NewInMemoryStore()

	inv, err := retry.New(m, func(o *retry.Options) {
		o.Sink = store
		o.Sleep = func(context.Context, time.Duration) error { return nil }
		if b.attempts > 0 {
			o.Policy.MaxAttempts = b.attempts
		}
	})
	require.NoError(t, err)

	sess, err := session.New(context.Background(), b.narration, players, inv, func(o *session.Options) {
		o.Selector = turnorder.Fixed{}
		o.Loader = store
	})
	require.NoError(t, err)

	return &Harness{Session: sess, Model: m, Store: store}
}
