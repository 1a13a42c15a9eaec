// Package retry wraps a model backend with a bounded exponential-backoff
// policy and persists every successful response.
//
// Every backend error is treated as transient. After MaxAttempts failures the
// invoker gives up with *core.ExhaustedRetriesError, which callers treat as
// fatal to the current round.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/model"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
)

// DefaultMaxBackoff caps a single wait when Policy.MaxBackoff is zero.
const DefaultMaxBackoff = time.Minute

// Policy bounds the number of attempts and the waits between them.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64

	// MaxBackoff caps every wait; zero means DefaultMaxBackoff.
	MaxBackoff time.Duration
}

// DefaultPolicy is three attempts, waiting 2s then 4s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, Multiplier: 2, MaxBackoff: DefaultMaxBackoff}
}

// Validate reports a policy that could never produce an attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}

	if p.InitialBackoff < 0 {
		return fmt.Errorf("initial backoff must not be negative, got %s", p.InitialBackoff)
	}

	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %g", p.Multiplier)
	}

	if p.MaxBackoff < 0 {
		return fmt.Errorf("max backoff must not be negative, got %s", p.MaxBackoff)
	}

	return nil
}

func (p Policy) maxBackoff() time.Duration {
	if p.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return p.MaxBackoff
}

// first returns the wait after the first failed attempt.
func (p Policy) first() time.Duration {
	return min(p.InitialBackoff, p.maxBackoff())
}

// next grows wait by the multiplier, saturating at the cap. The float
// comparison happens before conversion so large products cannot overflow.
func (p Policy) next(wait time.Duration) time.Duration {
	limit := p.maxBackoff()

	grown := float64(wait) * p.Multiplier
	if grown >= float64(limit) {
		return limit
	}

	return time.Duration(grown)
}

// Backoffs lists the waits the policy performs when every attempt fails.
func (p Policy) Backoffs() []time.Duration {
	if p.MaxAttempts < 2 {
		return nil
	}

	out := make([]time.Duration, 0, p.MaxAttempts-1)
	wait := p.first()
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, wait)
		wait = p.next(wait)
	}

	return out
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer receives attempt and backoff events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(player string, attempt int, latency time.Duration, err error)
	ObserveBackoff(player string, wait time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, time.Duration, error) {}
func (nopObserver) ObserveBackoff(string, time.Duration)             {}

// Request is one player turn to be answered.
type Request struct {
	Player       *core.Player
	UserPrompt   string
	SystemPrompt string
	SessionID    string
	Round        int
}

// Invoker is what the session needs from this package.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*core.Record, error)
}

// Options configures New.
type Options struct {
	Policy   Policy
	Sleep    SleepFunc
	Sink     transcript.Sink
	Observer Observer
	Logger   logging.Logger
	Now      func() time.Time

	// AttemptTimeout bounds a single backend call; zero means no bound.
	AttemptTimeout time.Duration
}

// ModelInvoker calls a model.Model under a retry policy.
type ModelInvoker struct {
	model    model.Model
	policy   Policy
	sleep    SleepFunc
	sink     transcript.Sink
	observer Observer
	logger   logging.Logger
	now      func() time.Time
	timeout  time.Duration
}

// New creates a ModelInvoker. A nil Sink disables persistence.
func New(m model.Model, optFns ...func(o *Options)) (*ModelInvoker, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}

	opts := Options{
		Policy:   DefaultPolicy(),
		Sleep:    Sleep,
		Observer: nopObserver{},
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &ModelInvoker{
		model:    m,
		policy:   opts.Policy,
		sleep:    opts.Sleep,
		sink:     opts.Sink,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
		timeout:  opts.AttemptTimeout,
	}, nil
}

// Policy returns the active policy.
func (inv *ModelInvoker) Policy() Policy { return inv.policy }

// Invoke asks the backend for the player's response.
//
// On success the exchange is appended to the player's conversation and, if a
// sink is configured, the record is persisted. A sink failure is reported as
// *core.PersistenceError together with the (valid) record; it is never
// retried. Context cancellation is returned as is.
func (inv *ModelInvoker) Invoke(ctx context.Context, req Request) (*core.Record, error) {
	if req.Player == nil || req.Player.Conversation == nil {
		return nil, errors.New("player with conversation is required")
	}

	player := req.Player.Name
	log := logging.With(inv.logger, "player", player, "round", req.Round)

	mreq := model.Request{
		ConversationID: req.Player.Conversation.ID,
		System:         req.SystemPrompt,
		History:        req.Player.Conversation.Exchanges(),
		Prompt:         req.UserPrompt,
	}

	wait := inv.policy.first()

	var last error
	for attempt := 1; attempt <= inv.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Debug("retry.attempt.start", "attempt", attempt)

		start := inv.now()
		resp, err := inv.generate(ctx, mreq)
		latency := inv.now().Sub(start)

		if err == nil && resp == nil {
			err = errors.New("backend returned no response")
		}

		inv.observer.ObserveAttempt(player, attempt, latency, err)

		if err == nil {
			return inv.complete(ctx, req, mreq, resp, latency, log)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		last = &core.TransientError{Err: err}
		log.Warn("retry.attempt.error", "attempt", attempt, "error", err)

		if attempt == inv.policy.MaxAttempts {
			break
		}

		inv.observer.ObserveBackoff(player, wait)
		log.Info("retry.backoff", "attempt", attempt, "wait", wait)

		if err := inv.sleep(ctx, wait); err != nil {
			return nil, err
		}

		wait = inv.policy.next(wait)
	}

	log.Error("retry.exhausted", "attempts", inv.policy.MaxAttempts, "error", last)

	return nil, &core.ExhaustedRetriesError{Player: player, Attempts: inv.policy.MaxAttempts, Last: last}
}

func (inv *ModelInvoker) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	if inv.timeout <= 0 {
		return inv.model.Generate(ctx, req)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	return inv.model.Generate(attemptCtx, req)
}

func (inv *ModelInvoker) complete(
	ctx context.Context,
	req Request,
	mreq model.Request,
	resp *model.Response,
	latency time.Duration,
	log logging.Logger,
) (*core.Record, error) {
	conv := req.Player.Conversation
	if resp.Model != "" {
		conv.Model = resp.Model
	}

	conv.AddExchange(core.Exchange{Prompt: mreq.Prompt, System: mreq.System, Response: resp.Text})

	rec := &core.Record{
		ID:             core.NewID(),
		SessionID:      req.SessionID,
		ConversationID: conv.ID,
		Round:          req.Round,
		Player:         req.Player.Name,
		Character:      req.Player.Character.Name,
		Model:          resp.Model,
		Prompt:         mreq.Prompt,
		System:         mreq.System,
		Response:       resp.Text,
		InputTokens:    resp.Usage.InputTokens,
		OutputTokens:   resp.Usage.OutputTokens,
		Duration:       latency,
		CreatedAt:      inv.now().UTC(),
	}

	log.Debug("retry.attempt.success", "record_id", rec.ID, "latency", latency)

	if inv.sink == nil {
		return rec, nil
	}

	if err := inv.sink.Append(ctx, *rec); err != nil {
		log.Error("retry.persist.error", "record_id", rec.ID, "error", err)
		return rec, &core.PersistenceError{RecordID: rec.ID, Player: rec.Player, Err: err}
	}

	return rec, nil
}
