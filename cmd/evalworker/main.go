package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/evalworker/internal/auth"
	"github.com/bhandras/evalworker/internal/config"
	"github.com/bhandras/evalworker/internal/journal"
	"github.com/bhandras/evalworker/internal/logger"
	"github.com/bhandras/evalworker/internal/server"
	"github.com/bhandras/evalworker/internal/session"
	"github.com/bhandras/evalworker/internal/stdio"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
	defaultTokenTTL = 24 * time.Hour
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve", "stdio", "token":
		cfg, tok, err := loadConfig(command, args)
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout)
			return nil
		}
		if err != nil {
			return err
		}

		switch command {
		case "serve":
			return serve(cfg)
		case "stdio":
			return runStdio(cfg)
		default:
			return printToken(cfg, tok, stdout)
		}
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "evalworker v%s\n", version)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", command)
	}
}

type tokenFlags struct {
	subject string
	ttl     time.Duration
}

// loadConfig parses command flags into config overrides. Only flags that were
// given explicitly override the environment.
func loadConfig(command string, args []string) (*config.Config, tokenFlags, error) {
	fs := flag.NewFlagSet("evalworker "+command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	addr := fs.String("addr", "", "Listen address")
	journalPath := fs.String("journal", "", "SQLite journal path (empty disables)")
	secret := fs.String("secret", "", "Master secret for token signing")
	mailbox := fs.Int("mailbox", 0, "Per-session queue size")
	evalTimeout := fs.Duration("eval-timeout", 0, "Bound on the evaluator lock wait per message")
	rateLimit := fs.Float64("rate-limit", 0, "Inbound messages per second per connection")
	logLevel := fs.String("log-level", "", "trace|debug|info|warn|error")
	debug := fs.Bool("debug", false, "Enable debug logging")

	var tok tokenFlags
	fs.StringVar(&tok.subject, "subject", "host", "Token subject")
	fs.DurationVar(&tok.ttl, "ttl", defaultTokenTTL, "Token lifetime (0 for no expiry)")

	if err := fs.Parse(args); err != nil {
		return nil, tok, err
	}
	if fs.NArg() > 0 {
		return nil, tok, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var o config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			o.Addr = addr
		case "journal":
			o.JournalPath = journalPath
		case "secret":
			o.MasterSecret = secret
		case "mailbox":
			o.MailboxSize = mailbox
		case "eval-timeout":
			o.EvalTimeout = evalTimeout
		case "rate-limit":
			o.RateLimit = rateLimit
		case "log-level":
			o.LogLevel = logLevel
		case "debug":
			o.Debug = debug
		}
	})

	cfg, err := config.Load(o)
	if err != nil {
		return nil, tok, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg, tok, nil
}

// sessionConfig wires the journal in as both readiness step and sink.
func sessionConfig(cfg *config.Config) (session.Config, *journal.Lazy) {
	sc := session.Config{
		MailboxSize: cfg.MailboxSize,
		EvalTimeout: cfg.EvalTimeout,
	}
	if cfg.JournalPath == "" {
		return sc, nil
	}
	j := journal.NewLazy(cfg.JournalPath)
	sc.Loader = j
	sc.Journal = j
	return sc, j
}

func serve(cfg *config.Config) error {
	if err := cfg.RequireMasterSecret(); err != nil {
		return err
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	jwtManager, err := auth.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		return fmt.Errorf("failed to create JWT manager: %w", err)
	}

	sc, j := sessionConfig(cfg)
	opts := server.Options{
		Sessions:       session.NewManager(sc),
		JWT:            jwtManager,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}
	if j != nil {
		defer j.Close()
		// Fail fast on a bad journal path instead of at the first connection.
		if err := j.Load(context.Background()); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		opts.Health = j.Ping
		logger.Infof("Journal: %s", cfg.JournalPath)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("evalworker listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Websocket connections are hijacked, so Shutdown does not wait for
		// them; stopping the sessions closes them.
		err := httpServer.Shutdown(shutdownCtx)
		return errors.Join(err, opts.Sessions.StopAll(shutdownCtx))
	})

	return g.Wait()
}

func runStdio(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, j := sessionConfig(cfg)
	if j != nil {
		defer j.Close()
	}

	sess := session.New(sc)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	return stdio.Serve(ctx, sess, os.Stdin, os.Stdout)
}

func printToken(cfg *config.Config, tok tokenFlags, stdout io.Writer) error {
	if err := cfg.RequireMasterSecret(); err != nil {
		return err
	}
	jwtManager, err := auth.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		return err
	}
	token, err := jwtManager.CreateToken(tok.subject, tok.ttl)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `evalworker - parity evaluation worker

Usage:
  evalworker [serve] [flags]   Serve worker sessions over websocket (default)
  evalworker stdio [flags]     Run one session over stdin/stdout
  evalworker token [flags]     Print a bearer token for /v1 routes
  evalworker help              Show this help message
  evalworker version           Show version information

Environment Variables:
  PORT                          Listen port (default: 3017)
  EVALWORKER_ADDR               Listen address (overrides PORT)
  EVALWORKER_JOURNAL_PATH       SQLite journal path (default: disabled)
  EVALWORKER_MASTER_SECRET      Master secret for token signing (serve, token)
  EVALWORKER_MAILBOX_SIZE       Per-session queue size (default: 256)
  EVALWORKER_EVAL_TIMEOUT       Evaluator lock wait bound, e.g. 50ms (default: none)
  EVALWORKER_RATE_LIMIT         Inbound messages/s per connection (default: unlimited)
  EVALWORKER_RATE_BURST         Rate limiter burst (default: 64)
  EVALWORKER_ALLOWED_ORIGINS    Comma separated CORS origins (default: *)
  EVALWORKER_LOG_LEVEL          trace|debug|info|warn|error (default: info)
  DEBUG                         Enable debug logging (true/1)

Flags:
  --addr --journal --secret --mailbox --eval-timeout --rate-limit
  --log-level --debug           Override the matching environment variable
  --subject --ttl               Token subject and lifetime (token only)`)
}
