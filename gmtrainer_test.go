package gmtrainer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/maxwelljoslyn/gm-trainer/config"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/model"
	"github.com/maxwelljoslyn/gm-trainer/party"
	"github.com/maxwelljoslyn/gm-trainer/session"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/maxwelljoslyn/gm-trainer/turnorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Model.Provider = config.ProviderMock
	cfg.Store.Backend = config.StoreSQL
	cfg.Database.Path = filepath.Join(t.TempDir(), "logs.db")
	cfg.Session.TurnOrder = "fixed"
	cfg.Log.Backend = "slog"

	return cfg
}

func TestTrainer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m := model.NewMockModel("mock", "mock")
	m.Respond("I light a torch.", "I ready Witchbolt.")

	tr, err := New(ctx, func(o *Options) {
		o.Config = cfg
		o.Model = m
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer tr.Close()

	s, err := tr.NewSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, party.Scenario, s.Narration())

	got, err := s.RunTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Arvak: I light a torch.", "Bolzar: I ready Witchbolt."}, got)

	records, err := tr.Store().SessionRecords(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Alice", records[0].Player)

	require.NotNil(t, tr.Metrics())
	assert.NotNil(t, tr.Metrics().Registry())
}

func TestTrainer_ResumeAcrossTrainers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, func(o *Options) { o.Config = cfg; o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)

	s, err := first.NewSession(ctx)
	require.NoError(t, err)
	_, err = s.RunTurn(ctx)
	require.NoError(t, err)
	convs := s.Conversations()
	require.NoError(t, first.Close())

	cfg.Resume = map[string]string{"Alice": convs["Alice"]}
	cfg.Session.PreviousRound = "reconstructed"
	second, err := New(ctx, func(o *Options) { o.Config = cfg; o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)
	defer second.Close()

	resumed, err := second.NewSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, convs["Alice"], resumed.Conversations()["Alice"])
	assert.Len(t, resumed.Snapshot().Previous, 1)

	cfg.Resume = map[string]string{"Alice": "no-such-conversation"}
	_, err = second.NewSession(ctx)
	assert.ErrorIs(t, err, core.ErrResumeNotFound)
}

func TestTrainer_Overrides(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	cfg.Players = []party.Member{{Player: "Carol", Character: core.Character{Name: "Cyra", Class: "cleric", Level: 4}}}
	store := transcript.NewInMemoryStore()

	tr, err := New(ctx, func(o *Options) {
		o.Config = cfg
		o.Store = store
		o.Selector = turnorder.Fixed{}
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)

	assert.Nil(t, tr.Metrics())

	s, err := tr.NewSession(ctx, func(o *session.Options) { o.ID = "fixed-id" })
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", s.ID())
	assert.Len(t, s.Players(), 1)

	_, err = s.RunTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, tr.Close())
	assert.NoError(t, store.Append(ctx, core.Record{ID: "x", ConversationID: "c"}), "external stores stay open")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UI.Mode = "gui"

	_, err := New(context.Background(), func(o *Options) { o.Config = cfg })
	assert.ErrorContains(t, err, "ui.mode")
}

func TestNewModel(t *testing.T) {
	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderMock} {
		cfg := config.DefaultModelConfig()
		cfg.Provider = provider
		cfg.Name = ""

		m, err := NewModel(cfg)
		require.NoError(t, err, provider)
		assert.Equal(t, provider, m.Info().Provider)
	}

	_, err := NewModel(config.ModelConfig{Provider: "llama"})
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := OpenStore(ctx, cfg, logging.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Store.Backend = config.StoreMemory
	s, err = OpenStore(ctx, cfg, logging.NoOpLogger{})
	require.NoError(t, err)
	assert.IsType(t, &transcript.InMemoryStore{}, s)

	cfg.Store.Backend = config.StoreNone
	s, err = OpenStore(ctx, cfg, logging.NoOpLogger{})
	require.NoError(t, err)
	assert.Nil(t, s)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg.Store.Backend = config.StoreRedis
	cfg.Redis.Addr = mr.Addr()
	s, err = OpenStore(ctx, cfg, logging.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gm.log")

	for _, backend := range []string{"zap", "slog"} {
		logger, closer, err := NewLogger(config.LogConfig{Backend: backend, Level: "debug", Format: "json", File: path})
		require.NoError(t, err, backend)
		logger.Info("trainer.test", "backend", backend)
		assert.NoError(t, closer())
	}

	_, _, err := NewLogger(config.LogConfig{Backend: "logrus", Level: "info"})
	assert.Error(t, err)

	_, _, err = NewLogger(config.LogConfig{Backend: "zap", Level: "loud"})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t,
		"Ran out of tries while generating response for player Bob.",
		Describe(&core.ExhaustedRetriesError{Player: "Bob", Attempts: 3}))
	assert.Contains(t, Describe(&core.PersistenceError{Player: "Bob", Err: errors.New("disk full")}), "disk full")
	assert.Contains(t, Describe(&core.ResumeNotFoundError{Player: "Bob", ConversationID: "c1"}), "c1")
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}
