// Package gmtrainer is the high-level façade that turns a config.Config into
// ready-to-run sessions. It builds the backend model, the transcript store,
// the retry invoker, the metrics collector and the logger, and hands them to
// session.New. Front-ends (ui/cli, ui/web) only talk to this package and to
// the session they receive.
package gmtrainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/maxwelljoslyn/gm-trainer/config"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/metrics"
	"github.com/maxwelljoslyn/gm-trainer/model"
	"github.com/maxwelljoslyn/gm-trainer/model/anthropic"
	"github.com/maxwelljoslyn/gm-trainer/model/openai"
	"github.com/maxwelljoslyn/gm-trainer/party"
	"github.com/maxwelljoslyn/gm-trainer/prompt"
	"github.com/maxwelljoslyn/gm-trainer/retry"
	"github.com/maxwelljoslyn/gm-trainer/session"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/maxwelljoslyn/gm-trainer/transcript/redisstore"
	"github.com/maxwelljoslyn/gm-trainer/transcript/sqlstore"
	"github.com/maxwelljoslyn/gm-trainer/turnorder"
)

// Options overrides pieces New would otherwise build from the config.
type Options struct {
	// Config defaults to config.DefaultConfig().
	Config *config.Config
	// Model replaces the configured provider.
	Model model.Model
	// Store replaces the configured transcript store. The trainer does not
	// close a store it did not open.
	Store transcript.Store
	// Logger replaces the configured logger.
	Logger logging.Logger
	// Metrics replaces the configured collector.
	Metrics *metrics.Collector
	// Selector replaces the configured turn order.
	Selector turnorder.Selector
	// Sleep replaces the backoff timer.
	Sleep retry.SleepFunc
}

// Trainer owns the long-lived dependencies shared by sessions.
type Trainer struct {
	cfg       *config.Config
	model     model.Model
	store     transcript.Store
	ownsStore bool
	logger    logging.Logger
	closers   []func() error
	metrics   *metrics.Collector
	selector  turnorder.Selector
	assembler *prompt.Assembler
	invoker   *retry.ModelInvoker
	players   []party.Member
}

// New validates the configuration and builds every dependency.
func New(ctx context.Context, optFns ...func(o *Options)) (*Trainer, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Trainer{cfg: cfg}

	if opts.Logger != nil {
		t.logger = opts.Logger
	} else {
		logger, closer, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		t.logger = logger
		t.closers = append(t.closers, closer)
	}

	t.model = opts.Model
	if t.model == nil {
		m, err := NewModel(cfg.Model)
		if err != nil {
			return nil, err
		}
		t.model = m
	}

	t.store = opts.Store
	if t.store == nil {
		s, err := OpenStore(ctx, cfg, t.logger)
		if err != nil {
			return nil, err
		}
		t.store = s
		t.ownsStore = true
	}

	t.metrics = opts.Metrics
	if t.metrics == nil && cfg.Metrics.Enabled {
		t.metrics = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	t.selector = opts.Selector
	if t.selector == nil {
		sel, err := turnorder.Parse(cfg.Session.TurnOrder)
		if err != nil {
			return nil, err
		}
		t.selector = sel
	}

	asm, err := prompt.New(func(o *prompt.Options) {
		if len(cfg.Session.Directives) > 0 {
			o.Directives = cfg.Session.Directives
		}
		o.Examples = cfg.Examples
	})
	if err != nil {
		return nil, err
	}
	t.assembler = asm

	t.players = cfg.Players
	if len(t.players) == 0 {
		t.players = party.DefaultMembers()
	}

	inv, err := retry.New(t.model, func(o *retry.Options) {
		o.Policy = retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			Multiplier:     cfg.Retry.Multiplier,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		}
		o.AttemptTimeout = cfg.Model.Timeout
		if opts.Sleep != nil {
			o.Sleep = opts.Sleep
		}
		if t.store != nil {
			o.Sink = t.store
		}
		if t.metrics != nil {
			o.Observer = t.metrics
		}
		o.Logger = t.logger
	})
	if err != nil {
		return nil, err
	}
	t.invoker = inv

	info := t.model.Info()
	t.logger.Info("trainer.ready",
		"provider", info.Provider,
		"model", info.Name,
		"store", cfg.Store.Backend,
		"turn_order", cfg.Session.TurnOrder,
	)

	return t, nil
}

// NewSession starts a session with the configured party, narration and
// resume map. Extra options are applied last.
func (t *Trainer) NewSession(ctx context.Context, optFns ...func(o *session.Options)) (*session.Session, error) {
	players, err := party.Build(t.players)
	if err != nil {
		return nil, err
	}

	mode, err := session.ParsePreviousRoundMode(t.cfg.Session.PreviousRound)
	if err != nil {
		return nil, err
	}

	fns := []func(o *session.Options){func(o *session.Options) {
		o.Selector = t.selector
		o.Assembler = t.assembler
		o.Logger = t.logger
		o.PreviousRound = mode
		o.Resume = t.cfg.Resume
		if t.store != nil {
			o.Loader = t.store
		}
		if t.metrics != nil {
			o.Observer = t.metrics
		}
	}}

	return session.New(ctx, t.cfg.Session.Narration, players, t.invoker, append(fns, optFns...)...)
}

// Config returns the active configuration.
func (t *Trainer) Config() *config.Config { return t.cfg }

// Logger returns the trainer's logger.
func (t *Trainer) Logger() logging.Logger { return t.logger }

// Metrics returns the collector, or nil when metrics are disabled.
func (t *Trainer) Metrics() *metrics.Collector { return t.metrics }

// Store returns the transcript store, or nil when persistence is disabled.
func (t *Trainer) Store() transcript.Store { return t.store }

// Model returns the backend.
func (t *Trainer) Model() model.Model { return t.model }

// Close releases the store (if the trainer opened it) and flushes logs.
func (t *Trainer) Close() error {
	var errs []error

	if t.ownsStore && t.store != nil {
		if err := t.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	for _, c := range t.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewModel builds the configured backend.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
		}), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
		}), nil
	case config.ProviderMock:
		name := cfg.Name
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, config.ProviderMock), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// OpenStore opens the configured transcript store. It returns nil for the
// "none" backend.
func OpenStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (transcript.Store, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.StoreSQL:
		return sqlstore.Open(ctx, func(o *sqlstore.Options) {
			o.Driver = cfg.Database.Driver
			o.DSN = cfg.Database.Path
			o.MaxOpenConns = cfg.Database.MaxOpenConns
			o.Logger = logger
		})
	case config.StoreRedis:
		return redisstore.New(ctx, func(o *redisstore.Options) {
			o.Addr = cfg.Redis.Addr
			o.Password = cfg.Redis.Password
			o.DB = cfg.Redis.DB
			o.PoolSize = cfg.Redis.PoolSize
			o.KeyPrefix = cfg.Redis.KeyPrefix
			o.TTL = cfg.Redis.TTL
			o.Logger = logger
		})
	case config.StoreMemory:
		return transcript.NewInMemoryStore(), nil
	case config.StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewLogger builds the configured logger and a function that flushes it.
func NewLogger(cfg config.LogConfig) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "zap":
		var paths []string
		if cfg.File != "" {
			paths = []string{cfg.File}
		}

		z, err := logging.NewZapLogger(level, cfg.Format, paths...)
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}

		// Syncing stderr fails on some terminals; only files are worth it.
		return z, func() error {
			if cfg.File == "" {
				return nil
			}
			return z.Sync()
		}, nil
	case "slog":
		var w io.Writer = os.Stderr
		closer := func() error { return nil }
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			w, closer = f, f.Close
		}
		return logging.NewSlogLogger(level, cfg.Format, w), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

// Describe renders a short summary of a halted session's cause for display.
func Describe(err error) string {
	var exhausted *core.ExhaustedRetriesError
	var persist *core.PersistenceError
	var notFound *core.ResumeNotFoundError

	switch {
	case errors.As(err, &exhausted):
		return fmt.Sprintf("Ran out of tries while generating response for player %s.", exhausted.Player)
	case errors.As(err, &persist):
		return fmt.Sprintf("Could not log the response of player %s: %v", persist.Player, persist.Err)
	case errors.As(err, &notFound):
		return fmt.Sprintf("No conversation %s to resume for player %s.", notFound.ConversationID, notFound.Player)
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}
