// Package config loads GM Trainer settings.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// then GM_TRAINER_* environment variables. Command-line flags are applied on
// top by the binary.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("gm-trainer.yaml").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/party"
	"github.com/maxwelljoslyn/gm-trainer/prompt"
)

// Store backends.
const (
	StoreSQL    = "sql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StoreNone   = "none"
)

// UI modes.
const (
	UICLI = "cli"
	UIWeb = "web"
)

// Model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config is the complete application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" env:"STORE"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	UI       UIConfig       `yaml:"ui" env:"UI"`
	Model    ModelConfig    `yaml:"model" env:"MODEL"`
	Retry    RetryConfig    `yaml:"retry" env:"RETRY"`
	Session  SessionConfig  `yaml:"session" env:"SESSION"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
	Metrics  MetricsConfig  `yaml:"metrics" env:"METRICS"`

	// Resume maps player names to conversation ids to continue.
	Resume map[string]string `yaml:"resume" env:"RESUME"`

	// Players replaces the built-in party when non-empty.
	Players []party.Member `yaml:"players" env:"-"`

	// Examples are worked responses shown in every system prompt.
	Examples []prompt.Example `yaml:"examples" env:"-"`
}

// StoreConfig selects where responses are logged.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
}

// DatabaseConfig configures the SQL store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	Path         string `yaml:"path" env:"PATH"` // file path for sqlite, DSN otherwise
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// UIConfig selects the front-end.
type UIConfig struct {
	Mode string `yaml:"mode" env:"MODE"`
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// ModelConfig selects and tunes the backend.
type ModelConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	Name        string        `yaml:"name" env:"NAME"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	Multiplier     float64       `yaml:"multiplier" env:"MULTIPLIER"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// SessionConfig tunes turn handling.
type SessionConfig struct {
	TurnOrder     string   `yaml:"turn_order" env:"TURN_ORDER"`
	PreviousRound string   `yaml:"previous_round" env:"PREVIOUS_ROUND"`
	Narration     string   `yaml:"narration" env:"NARRATION"`
	Directives    []string `yaml:"directives" env:"DIRECTIVES"`
}

// LogConfig configures logging.
type LogConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // zap | slog
	Level   string `yaml:"level" env:"LEVEL"`
	Format  string `yaml:"format" env:"FORMAT"` // json | text
	File    string `yaml:"file" env:"FILE"`     // empty logs to stderr
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Addr returns the web listen address.
func (u UIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// Validate checks enumerations and numeric bounds.
func (c *Config) Validate() error {
	var errs []string

	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value))
	}

	oneOf("store.backend", c.Store.Backend, StoreSQL, StoreRedis, StoreMemory, StoreNone)
	oneOf("database.driver", c.Database.Driver, "sqlite", "postgres", "mysql")
	oneOf("ui.mode", c.UI.Mode, UICLI, UIWeb)
	oneOf("model.provider", c.Model.Provider, ProviderAnthropic, ProviderOpenAI, ProviderMock)
	oneOf("session.turn_order", c.Session.TurnOrder, "random", "fixed")
	oneOf("session.previous_round", c.Session.PreviousRound, "empty", "reconstructed")
	oneOf("log.backend", c.Log.Backend, "zap", "slog")
	oneOf("log.format", c.Log.Format, "json", "text")

	if strings.EqualFold(c.Store.Backend, StoreSQL) && strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, "database.path is required for the sql store")
	}

	if c.UI.Port < 0 || c.UI.Port > 65535 {
		errs = append(errs, fmt.Sprintf("ui.port out of range: %d", c.UI.Port))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}

	if c.Retry.InitialBackoff < 0 {
		errs = append(errs, fmt.Sprintf("retry.initial_backoff must not be negative, got %s", c.Retry.InitialBackoff))
	}

	if c.Retry.MaxBackoff < 0 {
		errs = append(errs, fmt.Sprintf("retry.max_backoff must not be negative, got %s", c.Retry.MaxBackoff))
	}

	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier))
	}

	if c.Model.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("model.max_tokens must be positive, got %d", c.Model.MaxTokens))
	}

	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("model.temperature must be within [0, 2], got %g", c.Model.Temperature))
	}

	if strings.TrimSpace(c.Session.Narration) == "" {
		errs = append(errs, "session.narration must not be empty")
	}

	for name, id := range c.Resume {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Sprintf("resume entry %q=%q is incomplete", name, id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ParseResume parses a "player=conversation-id" pair.
func ParseResume(s string) (string, string, error) {
	name, id, ok := strings.Cut(s, "=")
	name, id = strings.TrimSpace(name), strings.TrimSpace(id)

	if !ok || name == "" || id == "" {
		return "", "", fmt.Errorf("invalid resume entry %q (want player=conversation-id)", s)
	}

	return name, id, nil
}
