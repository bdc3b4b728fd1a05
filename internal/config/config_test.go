package config

import (
	"testing"
	"time"

	"github.com/bhandras/evalworker/internal/logger"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT",
	"EVALWORKER_ADDR",
	"EVALWORKER_JOURNAL_PATH",
	"EVALWORKER_MASTER_SECRET",
	"EVALWORKER_MAILBOX_SIZE",
	"EVALWORKER_EVAL_TIMEOUT",
	"EVALWORKER_RATE_LIMIT",
	"EVALWORKER_RATE_BURST",
	"EVALWORKER_LOG_LEVEL",
	"EVALWORKER_ALLOWED_ORIGINS",
	"DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":3017", cfg.Addr)
	require.Empty(t, cfg.JournalPath)
	require.Equal(t, 256, cfg.MailboxSize)
	require.Zero(t, cfg.EvalTimeout)
	require.Zero(t, cfg.RateLimit)
	require.Equal(t, logger.LevelInfo, cfg.LogLevel)
	require.False(t, cfg.Debug)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Error(t, cfg.RequireMasterSecret())
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("EVALWORKER_JOURNAL_PATH", "/tmp/j.db")
	t.Setenv("EVALWORKER_MASTER_SECRET", "s3cret")
	t.Setenv("EVALWORKER_MAILBOX_SIZE", "8")
	t.Setenv("EVALWORKER_EVAL_TIMEOUT", "250ms")
	t.Setenv("EVALWORKER_RATE_LIMIT", "12.5")
	t.Setenv("EVALWORKER_RATE_BURST", "3")
	t.Setenv("EVALWORKER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DEBUG", "1")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "/tmp/j.db", cfg.JournalPath)
	require.NoError(t, cfg.RequireMasterSecret())
	require.Equal(t, 8, cfg.MailboxSize)
	require.Equal(t, 250*time.Millisecond, cfg.EvalTimeout)
	require.Equal(t, 12.5, cfg.RateLimit)
	require.Equal(t, 3, cfg.RateBurst)
	require.True(t, cfg.Debug)
	require.Equal(t, logger.LevelDebug, cfg.LogLevel)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_OverridesWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVALWORKER_ADDR", ":1111")
	t.Setenv("EVALWORKER_MAILBOX_SIZE", "8")
	t.Setenv("EVALWORKER_LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "true")

	addr := "127.0.0.1:0"
	size := 2
	level := "trace"
	debug := false
	timeout := time.Second

	cfg, err := Load(Overrides{
		Addr:        &addr,
		MailboxSize: &size,
		LogLevel:    &level,
		Debug:       &debug,
		EvalTimeout: &timeout,
	})
	require.NoError(t, err)
	require.Equal(t, addr, cfg.Addr)
	require.Equal(t, 2, cfg.MailboxSize)
	require.Equal(t, logger.LevelTrace, cfg.LogLevel)
	require.False(t, cfg.Debug)
	require.Equal(t, time.Second, cfg.EvalTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "http"},
		{"PORT", "70000"},
		{"EVALWORKER_MAILBOX_SIZE", "lots"},
		{"EVALWORKER_MAILBOX_SIZE", "0"},
		{"EVALWORKER_EVAL_TIMEOUT", "soon"},
		{"EVALWORKER_EVAL_TIMEOUT", "-1s"},
		{"EVALWORKER_RATE_LIMIT", "fast"},
		{"EVALWORKER_RATE_LIMIT", "-2"},
		{"EVALWORKER_RATE_BURST", "x"},
		{"EVALWORKER_LOG_LEVEL", "loud"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load(Overrides{})
			require.Error(t, err)
		})
	}
}
