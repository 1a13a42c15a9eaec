package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/prompt"
	"github.com/maxwelljoslyn/gm-trainer/retry"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/maxwelljoslyn/gm-trainer/turnorder"
)

var (
	// ErrRoundInProgress is returned when a call needs an Idle session.
	ErrRoundInProgress = errors.New("round in progress")
	// ErrHalted is returned once a fatal error stopped the session.
	ErrHalted = errors.New("session halted")
	// ErrEmptyNarration rejects blank narration.
	ErrEmptyNarration = errors.New("narration must not be empty")
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	InRound
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InRound:
		return "in_round"
	case Halted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PreviousRoundMode selects how the previous-round log starts out.
type PreviousRoundMode string

const (
	// PreviousRoundEmpty starts every session with an empty previous round.
	PreviousRoundEmpty PreviousRoundMode = "empty"
	// PreviousRoundReconstructed seeds the previous round from the last
	// response of every resumed player, in declaration order.
	PreviousRoundReconstructed PreviousRoundMode = "reconstructed"
)

// ParsePreviousRoundMode validates a configured mode. Blank means empty.
func ParsePreviousRoundMode(s string) (PreviousRoundMode, error) {
	switch PreviousRoundMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreviousRoundEmpty:
		return PreviousRoundEmpty, nil
	case PreviousRoundReconstructed:
		return PreviousRoundReconstructed, nil
	default:
		return "", fmt.Errorf("unknown previous round mode %q (want %s or %s)", s, PreviousRoundEmpty, PreviousRoundReconstructed)
	}
}

// Observer receives turn and round events, e.g. for metrics.
type Observer interface {
	ObserveTurn(player string, latency time.Duration)
	ObserveRound(utterances int, latency time.Duration)
	ObserveHalt(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string, time.Duration) {}
func (nopObserver) ObserveRound(int, time.Duration)   {}
func (nopObserver) ObserveHalt(error)                 {}

// Options configures New.
type Options struct {
	// ID overrides the generated session id.
	ID string
	// Selector decides the per-round order. Defaults to a random permutation.
	Selector turnorder.Selector
	// Assembler renders prompts. Defaults to prompt.New().
	Assembler *prompt.Assembler
	Logger    logging.Logger
	Observer  Observer
	// Loader resolves Resume entries.
	Loader transcript.Loader
	// Resume maps player names to conversation ids to continue.
	Resume map[string]string
	// PreviousRound controls the initial previous-round log.
	PreviousRound PreviousRoundMode
}

// TurnOptions configures one RunTurn call.
type TurnOptions struct {
	// Display is called with every utterance as soon as it is recorded.
	Display func(u core.Utterance)
}

// Snapshot is a consistent copy of the session's observable state.
type Snapshot struct {
	ID        string
	State     State
	Narration string
	Previous  []string
	Current   []string
	Round     int
	Err       error
}

// Session is one GM Trainer session. It is safe for concurrent use; turns are
// strictly sequential and overlapping RunTurn calls are rejected.
type Session struct {
	mu        sync.Mutex
	id        string
	state     State
	narration string
	previous  []string
	current   []string
	round     int
	err       error

	players   []*core.Player
	invoker   retry.Invoker
	selector  turnorder.Selector
	assembler *prompt.Assembler
	logger    logging.Logger
	observer  Observer
}

// New creates an Idle session. Players are cloned so templates can be reused
// across sessions. Resume entries are loaded through Options.Loader; an id
// unknown to the loader yields *core.ResumeNotFoundError.
func New(ctx context.Context, narration string, players []*core.Player, inv retry.Invoker, optFns ...func(o *Options)) (*Session, error) {
	if inv == nil {
		return nil, errors.New("invoker is required")
	}

	if strings.TrimSpace(narration) == "" {
		return nil, ErrEmptyNarration
	}

	opts := Options{
		PreviousRound: PreviousRoundEmpty,
		Logger:        logging.NoOpLogger{},
		Observer:      nopObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ID == "" {
		opts.ID = core.NewID()
	}

	if opts.Selector == nil {
		opts.Selector = turnorder.NewRandom()
	}

	if opts.Assembler == nil {
		a, err := prompt.New()
		if err != nil {
			return nil, err
		}
		opts.Assembler = a
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	if _, err := ParsePreviousRoundMode(string(opts.PreviousRound)); err != nil {
		return nil, err
	}

	party, err := cloneParty(players)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        opts.ID,
		state:     Idle,
		narration: narration,
		players:   party,
		invoker:   inv,
		selector:  opts.Selector,
		assembler: opts.Assembler,
		logger:    logging.With(opts.Logger, "session_id", opts.ID),
		observer:  opts.Observer,
	}

	if err := s.resume(ctx, opts); err != nil {
		return nil, err
	}

	s.logger.Info("session.created", "players", len(party), "resumed", len(opts.Resume))

	return s, nil
}

func cloneParty(players []*core.Player) ([]*core.Player, error) {
	seen := make(map[string]struct{}, len(players))
	party := make([]*core.Player, 0, len(players))

	for _, p := range players {
		if err := p.Validate(); err != nil {
			return nil, err
		}

		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate player name %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		clone := p.Clone()
		if clone.Conversation == nil {
			clone.Conversation = core.NewConversation()
		}
		party = append(party, clone)
	}

	return party, nil
}

func (s *Session) resume(ctx context.Context, opts Options) error {
	if len(opts.Resume) == 0 {
		return nil
	}

	if opts.Loader == nil {
		return errors.New("resume requires a transcript loader")
	}

	resumed := make(map[string][]core.Record, len(opts.Resume))
	for name, convID := range opts.Resume {
		p := s.player(name)
		if p == nil {
			return fmt.Errorf("cannot resume unknown player %q", name)
		}

		records, err := opts.Loader.LoadConversation(ctx, convID)
		if err != nil {
			if errors.Is(err, transcript.ErrConversationNotFound) {
				return &core.ResumeNotFoundError{Player: name, ConversationID: convID, Err: err}
			}
			return fmt.Errorf("resume player %s: %w", name, err)
		}

		p.Conversation = transcript.Restore(convID, records)
		resumed[name] = records
		s.logger.Info("session.resume", "player", name, "conversation_id", convID, "exchanges", len(records))
	}

	// Declaration order keeps reconstruction deterministic.
	for _, p := range s.players {
		records, ok := resumed[p.Name]
		if !ok || len(records) == 0 {
			continue
		}

		last := records[len(records)-1]
		if last.Round > s.round {
			s.round = last.Round
		}

		if opts.PreviousRound == PreviousRoundReconstructed {
			s.previous = append(s.previous, p.Utter(last.Response).String())
		}
	}

	return nil
}

func (s *Session) player(name string) *core.Player {
	for _, p := range s.players {
		if p.Name == name {
			return p
		}
	}

	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Players returns copies of the session's players.
func (s *Session) Players() []*core.Player {
	return core.ClonePlayers(s.players)
}

// Conversations maps player names to their conversation ids, e.g. for later
// resumption.
func (s *Session) Conversations() map[string]string {
	out := make(map[string]string, len(s.players))
	for _, p := range s.players {
		out[p.Name] = p.Conversation.ID
	}

	return out
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the error that halted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Narration returns the current narration.
func (s *Session) Narration() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.narration
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:        s.id,
		State:     s.state,
		Narration: s.narration,
		Previous:  append([]string{}, s.previous...),
		Current:   append([]string{}, s.current...),
		Round:     s.round,
		Err:       s.err,
	}
}

// SetNarration replaces the narration for the next round.
func (s *Session) SetNarration(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyNarration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case InRound:
		return ErrRoundInProgress
	case Halted:
		return fmt.Errorf("%w: %w", ErrHalted, s.err)
	}

	s.narration = text
	s.logger.Debug("session.narration.set", "round", s.round+1)

	return nil
}

// RunTurn plays one full round: every player, in the selector's order,
// responds to the narration. It returns the round's utterances in order.
//
// An exhausted backend halts the session without recording an utterance for
// the failing player. A persistence failure records and displays the
// utterance, then halts; the round's utterances so far are returned with
// the error. Context cancellation halts as well.
func (s *Session) RunTurn(ctx context.Context, optFns ...func(o *TurnOptions)) ([]string, error) {
	var opts TurnOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	switch s.state {
	case InRound:
		s.mu.Unlock()
		return nil, ErrRoundInProgress
	case Halted:
		err := s.err
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrHalted, err)
	}

	s.state = InRound
	narration := s.narration
	previous := append([]string(nil), s.previous...)
	round := s.round + 1
	s.mu.Unlock()

	log := logging.With(s.logger, "round", round)
	log.Info("session.round.start", "players", len(s.players))
	roundStart := time.Now()

	seq := s.selector.Order(s.players)
	utterances := make([]string, 0, seq.Len())

	for {
		p, ok := seq.Next()
		if !ok {
			break
		}

		turnStart := time.Now()
		log.Debug("session.turn.start", "player", p.Name)

		system, err := s.assembler.System(p, s.players)
		if err != nil {
			return nil, s.halt(fmt.Errorf("render system prompt for %s: %w", p.Name, err), log)
		}

		user := s.assembler.User(previous, narration, utterances)

		rec, err := s.invoker.Invoke(ctx, retry.Request{
			Player:       p,
			UserPrompt:   user,
			SystemPrompt: system,
			SessionID:    s.id,
			Round:        round,
		})

		var perr *core.PersistenceError
		if err != nil && (rec == nil || !errors.As(err, &perr)) {
			return nil, s.halt(err, log)
		}

		u := p.Utter(rec.Response)
		line := u.String()
		utterances = append(utterances, line)

		s.mu.Lock()
		s.current = append(s.current, line)
		s.mu.Unlock()

		if opts.Display != nil {
			opts.Display(u)
		}

		s.observer.ObserveTurn(p.Name, time.Since(turnStart))
		log.Debug("session.turn.end", "player", p.Name, "record_id", rec.ID)

		if perr != nil {
			// The utterance was delivered; callers still get it.
			return utterances, s.halt(err, log)
		}
	}

	s.mu.Lock()
	s.previous = s.current
	s.current = nil
	s.round = round
	s.state = Idle
	s.mu.Unlock()

	latency := time.Since(roundStart)
	s.observer.ObserveRound(len(utterances), latency)
	log.Info("session.round.complete", "utterances", len(utterances), "latency", latency)

	return utterances, nil
}

func (s *Session) halt(err error, log logging.Logger) error {
	s.mu.Lock()
	s.state = Halted
	s.err = err
	s.mu.Unlock()

	s.observer.ObserveHalt(err)
	log.Error("session.halt", "error", err)

	return err
}
