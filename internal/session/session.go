// Package session implements the worker session: a single goroutine that owns
// one evaluator for its whole lifetime and answers messages strictly in
// arrival order.
//
// Lifecycle:
//
//	New     mailbox and outbox exist; messages may already be posted
//	Start   readiness step, then exactly one evaluator, then the loop runs
//	Stop    intake closes, accepted messages drain, the outbox closes
//
// Messages posted before Start are queued and only processed after the
// evaluator exists. If the readiness step fails they are discarded and the
// session never answers anything.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bhandras/evalworker/internal/actor"
	"github.com/bhandras/evalworker/internal/evaluator"
	"github.com/bhandras/evalworker/internal/logger"
	"github.com/bhandras/evalworker/internal/metrics"
	"github.com/bhandras/evalworker/internal/wire"
	"github.com/google/uuid"
)

const defaultMailboxSize = 256

// Config controls a Session.
type Config struct {
	// ID identifies the session. If empty, a random UUID is used.
	ID string

	// MailboxSize bounds the inbound queue and the outbound response queue.
	// If zero, a default is used.
	MailboxSize int

	// EvalTimeout bounds the wait for the evaluator lock per message. Zero
	// waits as long as needed.
	EvalTimeout time.Duration

	// Loader is the readiness step run once by Start. Nil means ready
	// immediately.
	Loader Loader

	// Journal, when set, receives one entry per response.
	Journal Journal

	// Clock stamps journal entries. Defaults to the wall clock.
	Clock actor.Clock

	// EvaluatorOptions are passed to evaluator.New.
	EvaluatorOptions []evaluator.Option
}

// Session is one worker session.
type Session struct {
	id    string
	cfg   Config
	actor *actor.Actor[State]
	rt    *sessionRuntime
	out   chan wire.Response

	mu      sync.Mutex
	running bool
	stopped bool
	initErr error
	ready   chan struct{}

	startOnce sync.Once
	startErr  error

	outOnce sync.Once
	done    chan struct{}
}

// New creates a session. It does not run the readiness step; call Start.
func New(cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = actor.RealClock{}
	}

	s := &Session{
		id:    id,
		cfg:   cfg,
		out:   make(chan wire.Response, size),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.rt = &sessionRuntime{
		sessionID:   id,
		evalTimeout: cfg.EvalTimeout,
		journal:     cfg.Journal,
		clock:       clock,
		out:         s.out,
	}
	s.actor = actor.New(State{SessionID: id}, reduce, s.rt,
		actor.WithMailboxSize[State](size),
		actor.WithHooks(actor.Hooks[State]{
			OnInput: func(actor.Input) {
				logger.Tracef("[session] %s dequeued message", id)
			},
			OnPanic: func(r any) {
				logger.Errorf("[session] %s loop panic: %v", id, r)
			},
		}),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Start runs the readiness step, builds the evaluator and starts the message
// loop. Only the first call does any work; later calls return its result.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() { s.startErr = s.start(ctx) })
	return s.startErr
}

func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if s.cfg.Loader != nil {
		if err := s.cfg.Loader.Load(ctx); err != nil {
			initErr := &InitializationError{SessionID: s.id, Err: err}
			logger.Errorf("[session] %s: %v", s.id, err)
			metrics.Sessions.WithLabelValues("init_failed").Inc()

			s.mu.Lock()
			s.initErr = initErr
			s.stopped = true
			s.mu.Unlock()

			s.actor.Stop()
			s.closeOutbox()
			return initErr
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrClosed
	}

	s.rt.eval = evaluator.New(s.cfg.EvaluatorOptions...)
	s.running = true
	s.actor.Start()
	close(s.ready)

	metrics.Sessions.WithLabelValues("ready").Inc()
	metrics.ActiveSessions.Inc()
	go func() {
		<-s.actor.Done()
		metrics.ActiveSessions.Dec()
		s.closeOutbox()
		logger.Infof("[session] %s stopped", s.id)
	}()

	logger.Infof("[session] %s ready", s.id)
	return nil
}

// Ready is closed once the evaluator exists and the loop is running.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Post delivers one message. It waits while the mailbox is full and never
// drops an accepted message. Messages posted before Start completes are
// queued.
//
// After a failed Start it returns the InitializationError; after Stop it
// returns ErrClosed.
func (s *Session) Post(ctx context.Context, req wire.Request) error {
	err := s.actor.Enqueue(ctx, messageInput{req: req})
	if err == nil {
		return nil
	}
	if errors.Is(err, actor.ErrStopped) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.initErr != nil {
			return s.initErr
		}
		return ErrClosed
	}
	return err
}

// Responses yields exactly one response per accepted message, in order. The
// channel is closed when the session has stopped.
func (s *Session) Responses() <-chan wire.Response { return s.out }

// Done is closed once the session has stopped and Responses is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns a snapshot of the loop's bookkeeping.
func (s *Session) State() State { return s.actor.State() }

// EvaluatorState returns the evaluator's guarded state. ok is false before the
// evaluator exists.
func (s *Session) EvaluatorState() (st evaluator.State, ok bool) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return evaluator.State{}, false
	}
	return s.rt.eval.Snapshot(), true
}

// Stop closes intake and waits for every accepted message to be answered. If
// ctx ends first the remaining messages are discarded and ctx's error is
// returned. The caller must keep reading Responses while Stop drains.
//
// Stop is safe to call multiple times.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	running := s.running
	s.mu.Unlock()

	if !running {
		s.actor.Stop()
		s.closeOutbox()
		return nil
	}

	s.actor.Close()
	select {
	case <-s.actor.Done():
		<-s.done
		return nil
	case <-ctx.Done():
		s.actor.Stop()
		<-s.done
		return ctx.Err()
	}
}

func (s *Session) closeOutbox() {
	s.outOnce.Do(func() {
		close(s.out)
		close(s.done)
	})
}
