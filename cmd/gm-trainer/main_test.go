package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, done, err := loadConfig(nil, io.Discard, io.Discard, env(nil))
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, "logs.db", cfg.Database.Path)
	assert.Equal(t, config.UICLI, cfg.UI.Mode)
	assert.Equal(t, config.DefaultWebPort, cfg.UI.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, defaultCLILogFile, cfg.Log.File)
	assert.Empty(t, cfg.Resume)
}

func TestParseFlags_Overrides(t *testing.T) {
	args := []string{
		"-d", "custom.db",
		"--user-interface", "WEB",
		"--port", "9000",
		"--resume", "Alice=conv-a",
		"--resume", "Bob=conv-b",
		"--turn-order", "fixed",
		"--tries", "5",
		"--backoff", "500ms",
	}

	cfg, _, err := loadConfig(args, io.Discard, io.Discard, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, config.UIWeb, cfg.UI.Mode)
	assert.Equal(t, 9000, cfg.UI.Port)
	assert.Equal(t, map[string]string{"Alice": "conv-a", "Bob": "conv-b"}, cfg.Resume)
	assert.Equal(t, "fixed", cfg.Session.TurnOrder)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Empty(t, cfg.Log.File, "web mode keeps logging on stderr")
}

func TestParseFlags_FlagsBeatEnvironment(t *testing.T) {
	cfg, _, err := loadConfig([]string{"--tries", "4"}, io.Discard, io.Discard, env(map[string]string{
		"GM_TRAINER_RETRY_MAX_ATTEMPTS": "9",
		"GM_TRAINER_DATABASE_PATH":      "from-env.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad resume", []string{"--resume", "Alice"}},
		{"bad ui", []string{"-u", "gui"}},
		{"zero tries", []string{"--tries", "0"}},
		{"unknown flag", []string{"--nope"}},
		{"positional", []string{"extra"}},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loadConfig(tt.args, io.Discard, io.Discard, env(nil))
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var stderr bytes.Buffer

	_, _, err := loadConfig([]string{"-h"}, io.Discard, &stderr, env(nil))
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "--database-path")
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"--version"}, &stdout, io.Discard, env(nil)))
	assert.Equal(t, "gm-trainer dev\n", stdout.String())
}

func TestResumeFlag(t *testing.T) {
	r := resumeFlag{}
	require.NoError(t, r.Set("Bob=2"))
	require.NoError(t, r.Set("Alice=1"))
	assert.Equal(t, "Alice=1,Bob=2", r.String())
	assert.Error(t, r.Set("=1"))
}

func TestRun_WebShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	var stdout bytes.Buffer
	done := make(chan error, 1)

	go func() {
		done <- run(ctx, []string{"-u", "web", "--port", strconv.Itoa(port)}, &stdout, io.Discard, env(map[string]string{
			"GM_TRAINER_MODEL_PROVIDER": "mock",
			"GM_TRAINER_STORE_BACKEND":  "memory",
			"GM_TRAINER_LOG_BACKEND":    "slog",
			"GM_TRAINER_LOG_LEVEL":      "error",
		}))
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}

	out := stdout.String()
	assert.Contains(t, out, "Serving GM Trainer on http://127.0.0.1:")
	assert.Contains(t, out, "--resume Alice=")
	assert.Contains(t, out, "--resume Bob=")
}
