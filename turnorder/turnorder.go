// Package turnorder decides in which order players act during a round.
//
// A Selector produces a fresh, exhaustible Sequence per round that visits
// every player exactly once. Random draws a uniform permutation each round;
// Fixed keeps declaration order.
package turnorder

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
)

const (
	// ModeRandom selects a uniform random permutation per round.
	ModeRandom = "random"
	// ModeFixed selects declaration order.
	ModeFixed = "fixed"
)

// Selector builds the traversal for one round.
type Selector interface {
	Order(players []*core.Player) *Sequence
}

// Sequence is an exhaustible traversal of the players of one round.
type Sequence struct {
	players []*core.Player
	pos     int
}

// NewSequence wraps an already ordered slice. The slice is copied.
func NewSequence(players []*core.Player) *Sequence {
	return &Sequence{players: append([]*core.Player(nil), players...)}
}

// Next returns the next player, or false once every player has been visited.
func (s *Sequence) Next() (*core.Player, bool) {
	if s.pos >= len(s.players) {
		return nil, false
	}

	p := s.players[s.pos]
	s.pos++

	return p, true
}

// Len returns the number of players in the round.
func (s *Sequence) Len() int { return len(s.players) }

// Remaining returns how many players have not acted yet.
func (s *Sequence) Remaining() int { return len(s.players) - s.pos }

// Players returns the full order of the round.
func (s *Sequence) Players() []*core.Player {
	return append([]*core.Player(nil), s.players...)
}

// Fixed visits players in declaration order.
type Fixed struct{}

// Order implements Selector.
func (Fixed) Order(players []*core.Player) *Sequence { return NewSequence(players) }

// Random visits players in a uniformly random order, drawn independently
// for every round. It is safe for concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom returns a Random selector seeded from the clock.
func NewRandom() *Random {
	now := uint64(time.Now().UnixNano())
	return NewRandomWithSource(rand.NewPCG(now, now>>1|1))
}

// NewRandomWithSource returns a Random selector drawing from src; useful for
// reproducible tests.
func NewRandomWithSource(src rand.Source) *Random {
	return &Random{rng: rand.New(src)}
}

// Order implements Selector.
func (r *Random) Order(players []*core.Player) *Sequence {
	r.mu.Lock()
	perm := r.rng.Perm(len(players))
	r.mu.Unlock()

	ordered := make([]*core.Player, len(players))
	for i, j := range perm {
		ordered[i] = players[j]
	}

	return &Sequence{players: ordered}
}

// Parse maps a configured mode name to a Selector.
func Parse(mode string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeRandom:
		return NewRandom(), nil
	case ModeFixed:
		return Fixed{}, nil
	default:
		return nil, fmt.Errorf("unknown turn order %q (want %s or %s)", mode, ModeRandom, ModeFixed)
	}
}
