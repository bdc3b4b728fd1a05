package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/evalworker/internal/logger"
)

const (
	defaultPort        = 3017
	defaultMailboxSize = 256
	defaultRateBurst   = 64
)

// Config holds worker configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// JournalPath is the SQLite journal file. Empty disables the journal.
	JournalPath string
	// MasterSecret derives the token signing key. Required by serve.
	MasterSecret string

	// MailboxSize bounds each session's inbound and outbound queues.
	MailboxSize int
	// EvalTimeout bounds the evaluator lock wait per message. Zero waits
	// indefinitely.
	EvalTimeout time.Duration
	// RateLimit is the sustained inbound messages per second per websocket
	// connection. Zero disables smoothing.
	RateLimit float64
	RateBurst int

	LogLevel       logger.Level
	Debug          bool
	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr         *string
	JournalPath  *string
	MasterSecret *string
	MailboxSize  *int
	EvalTimeout  *time.Duration
	RateLimit    *float64
	LogLevel     *string
	Debug        *bool
}

// Load loads configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := defaultPort
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", portStr)
		}
		port = p
	}
	addr := os.Getenv("EVALWORKER_ADDR")
	if addr == "" {
		addr = fmt.Sprintf(":%d", port)
	}
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	journalPath := os.Getenv("EVALWORKER_JOURNAL_PATH")
	if overrides.JournalPath != nil {
		journalPath = *overrides.JournalPath
	}

	masterSecret := os.Getenv("EVALWORKER_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}

	mailboxSize, err := intEnv("EVALWORKER_MAILBOX_SIZE", defaultMailboxSize)
	if err != nil {
		return nil, err
	}
	if overrides.MailboxSize != nil {
		mailboxSize = *overrides.MailboxSize
	}
	if mailboxSize <= 0 {
		return nil, fmt.Errorf("mailbox size must be positive, got %d", mailboxSize)
	}

	var evalTimeout time.Duration
	if s := os.Getenv("EVALWORKER_EVAL_TIMEOUT"); s != "" {
		evalTimeout, err = time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid EVALWORKER_EVAL_TIMEOUT %q: %w", s, err)
		}
	}
	if overrides.EvalTimeout != nil {
		evalTimeout = *overrides.EvalTimeout
	}
	if evalTimeout < 0 {
		return nil, fmt.Errorf("eval timeout must not be negative, got %s", evalTimeout)
	}

	var rateLimit float64
	if s := os.Getenv("EVALWORKER_RATE_LIMIT"); s != "" {
		rateLimit, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid EVALWORKER_RATE_LIMIT %q: %w", s, err)
		}
	}
	if overrides.RateLimit != nil {
		rateLimit = *overrides.RateLimit
	}
	if rateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", rateLimit)
	}
	rateBurst, err := intEnv("EVALWORKER_RATE_BURST", defaultRateBurst)
	if err != nil {
		return nil, err
	}

	debug := isTrue(os.Getenv("DEBUG"))
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	levelStr := os.Getenv("EVALWORKER_LOG_LEVEL")
	if overrides.LogLevel != nil {
		levelStr = *overrides.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	if debug && levelStr == "" {
		level = logger.LevelDebug
	}

	origins := []string{"*"}
	if s := os.Getenv("EVALWORKER_ALLOWED_ORIGINS"); s != "" {
		origins = splitList(s)
	}

	return &Config{
		Addr:           addr,
		JournalPath:    journalPath,
		MasterSecret:   masterSecret,
		MailboxSize:    mailboxSize,
		EvalTimeout:    evalTimeout,
		RateLimit:      rateLimit,
		RateBurst:      rateBurst,
		LogLevel:       level,
		Debug:          debug,
		AllowedOrigins: origins,
	}, nil
}

// RequireMasterSecret returns an error if no master secret is configured.
func (c *Config) RequireMasterSecret() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("EVALWORKER_MASTER_SECRET environment variable is required")
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func isTrue(s string) bool {
	return s == "true" || s == "1"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
