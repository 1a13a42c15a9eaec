// Package storetest holds a behavioural suite every transcript.Store must
// pass. Store implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) transcript.Store

// Record builds a fully populated record for conversation conv.
func Record(session, conv string, round int, at time.Time, response string) core.Record {
	return core.Record{
		ID:             core.NewID(),
		SessionID:      session,
		ConversationID: conv,
		Round:          round,
		Player:         "Alice",
		Character:      "Arvak",
		Model:          "mock-model",
		Prompt:         "GM: You enter a cave.",
		System:         "You, Alice, are playing a tabletop RPG.",
		Response:       response,
		InputTokens:    12,
		OutputTokens:   5,
		Duration:       150 * time.Millisecond,
		CreatedAt:      at,
	}
}

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	t.Run("append and load in creation order", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t)
		defer s.Close()

		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		second := Record("s1", "c1", 2, base.Add(time.Minute), "I light a torch.")
		first := Record("s1", "c1", 1, base, "I look around.")
		other := Record("s1", "c2", 1, base, "I cast Sleep.")

		require.NoError(t, s.Append(ctx, second))
		require.NoError(t, s.Append(ctx, first))
		require.NoError(t, s.Append(ctx, other))

		got, err := s.LoadConversation(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "I look around.", got[0].Response)
		assert.Equal(t, "I light a torch.", got[1].Response)

		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, first.SessionID, got[0].SessionID)
		assert.Equal(t, first.Round, got[0].Round)
		assert.Equal(t, first.Player, got[0].Player)
		assert.Equal(t, first.Character, got[0].Character)
		assert.Equal(t, first.Model, got[0].Model)
		assert.Equal(t, first.Prompt, got[0].Prompt)
		assert.Equal(t, first.System, got[0].System)
		assert.Equal(t, first.InputTokens, got[0].InputTokens)
		assert.Equal(t, first.OutputTokens, got[0].OutputTokens)
		assert.Equal(t, first.Duration, got[0].Duration)
		assert.True(t, first.CreatedAt.Equal(got[0].CreatedAt), "created_at %v != %v", first.CreatedAt, got[0].CreatedAt)

		conv := transcript.Restore("c1", got)
		assert.Equal(t, 2, conv.Len())
		assert.Equal(t, "mock-model", conv.Model)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		_, err := s.LoadConversation(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, transcript.ErrConversationNotFound))
	})

	t.Run("session records", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t)
		defer s.Close()

		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.Append(ctx, Record("s1", "c1", 1, now, "a")))
		require.NoError(t, s.Append(ctx, Record("s1", "c2", 1, now.Add(time.Second), "b")))
		require.NoError(t, s.Append(ctx, Record("s2", "c3", 1, now, "c")))

		got, err := s.SessionRecords(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Response)
		assert.Equal(t, "b", got[1].Response)

		none, err := s.SessionRecords(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		rec := Record("s1", "", 1, time.Now().UTC(), "x")
		assert.Error(t, s.Append(context.Background(), rec))
	})

	t.Run("concurrent appends", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t)
		defer s.Close()

		const writers, each = 4, 5
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		errs := make(chan error, writers*each)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < each; i++ {
					rec := Record(fmt.Sprintf("s%d", w), "shared", i, base.Add(time.Duration(w*each+i)*time.Second), "r")
					errs <- s.Append(ctx, rec)
				}
			}(w)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.LoadConversation(ctx, "shared")
		require.NoError(t, err)
		assert.Len(t, got, writers*each)
	})
}
