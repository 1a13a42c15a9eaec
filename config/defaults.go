package config

import (
	"time"

	"github.com/maxwelljoslyn/gm-trainer/party"
)

// DefaultWebPort is used when the web UI is selected without a port.
const DefaultWebPort = 7860

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Store:    StoreConfig{Backend: StoreSQL},
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		UI:       UIConfig{Mode: UICLI, Host: "127.0.0.1", Port: DefaultWebPort},
		Model:    DefaultModelConfig(),
		Retry:    RetryConfig{MaxAttempts: 3, InitialBackoff: 2 * time.Second, Multiplier: 2, MaxBackoff: time.Minute},
		Session: SessionConfig{
			TurnOrder:     "random",
			PreviousRound: "empty",
			Narration:     party.Scenario,
		},
		Log:     LogConfig{Backend: "zap", Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Namespace: "gm_trainer"},
		Resume:  map[string]string{},
	}
}

// DefaultDatabaseConfig logs to a local SQLite file.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Driver: "sqlite", Path: "logs.db", MaxOpenConns: 10}
}

// DefaultRedisConfig points at a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379", PoolSize: 10, KeyPrefix: "gm-trainer:"}
}

// DefaultModelConfig uses Anthropic.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Provider:    ProviderAnthropic,
		Name:        "claude-3-5-sonnet-20241022",
		Temperature: 0.7,
		MaxTokens:   1024,
		Timeout:     2 * time.Minute,
	}
}
