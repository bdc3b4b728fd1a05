// Package actor runs a reducer over a mailbox on one goroutine.
//
// A reducer turns (state, input) into the next state plus a list of effects.
// Effects are plain values; a Runtime carries them out on the same goroutine
// before the next input is taken, so inputs complete in mailbox order.
package actor

import (
	"context"
	"errors"
	"sync"
)

const defaultMailboxSize = 256

// ErrStopped is returned when the actor no longer accepts input.
var ErrStopped = errors.New("actor stopped")

var errNilInput = errors.New("actor: nil input")

// Input is anything that can be posted to a mailbox. Embed InputBase to
// implement it.
type Input interface {
	isActorInput()
}

// Effect is a side effect described as data. Embed EffectBase to implement
// it.
type Effect interface {
	isActorEffect()
}

// ReducerFunc computes the next state. It must not block, perform I/O or read
// the clock; anything it needs arrives in the input.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime carries out effects.
type Runtime interface {
	// HandleEffects runs on the loop goroutine and holds up the mailbox until
	// it returns. It must return promptly once ctx is canceled. emit posts a
	// follow-up input without blocking; it is dropped if the mailbox is full.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases runtime resources. It may be called more than once.
	Stop()
}

// Hooks observe the loop. All of them run on the loop goroutine.
type Hooks[S any] struct {
	OnInput      func(input Input)
	OnTransition func(prev, next S, input Input)
	OnEffects    func(effects []Effect)

	// OnPanic receives a recovered loop panic. Without it the panic is
	// re-raised.
	OnPanic func(recovered any)
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks installs observation hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the mailbox capacity. Non-positive values keep the
// default.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.mailbox = make(chan Input, n)
		}
	}
}

// Actor owns a value of type S and changes it only on its loop goroutine.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]
	mailbox chan Input

	stateMu sync.Mutex
	state   S

	// Enqueue holds intake shared across its send, so once Close holds it
	// exclusively no accepted input can land behind the drain marker.
	intake sync.RWMutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
}

// drainInput tells the loop that every accepted input has been handled.
type drainInput struct{ InputBase }

// New builds an actor. The mailbox exists immediately, so inputs posted
// before Start wait there.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		mailbox: make(chan Input, defaultMailboxSize),
		state:   initial,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the loop. Only the first call has an effect.
func (a *Actor[S]) Start() {
	a.startOnce.Do(func() { go a.run() })
}

// Stop ends the loop at once and discards anything still in the mailbox. It
// may be called more than once.
func (a *Actor[S]) Stop() {
	// Cancelling first releases senders waiting on a full mailbox, which
	// frees intake.
	a.cancel()
	a.markClosed()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Close refuses new input and lets the loop finish what it already accepted.
// It returns immediately; wait on Done. Calling Close after Stop, or twice, is
// harmless.
func (a *Actor[S]) Close() {
	if !a.markClosed() {
		return
	}
	go func() {
		select {
		case a.mailbox <- drainInput{}:
		case <-a.ctx.Done():
		}
	}()
}

// markClosed reports whether this call did the closing.
func (a *Actor[S]) markClosed() bool {
	a.intake.Lock()
	defer a.intake.Unlock()
	if a.closed {
		return false
	}
	a.closed = true
	return true
}

// Done is closed when the loop has exited.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue posts input, waiting while the mailbox is full. An accepted input
// is never dropped. It fails with ErrStopped once the actor is closed or
// stopped, or with ctx's error if ctx ends first.
func (a *Actor[S]) Enqueue(ctx context.Context, input Input) error {
	if input == nil {
		return errNilInput
	}

	a.intake.RLock()
	defer a.intake.RUnlock()
	if a.closed {
		return ErrStopped
	}

	select {
	case a.mailbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the current state.
func (a *Actor[S]) State() S {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *Actor[S]) run() {
	defer close(a.done)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if a.hooks.OnPanic == nil {
			panic(r)
		}
		a.hooks.OnPanic(r)
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.mailbox:
			if _, drained := in.(drainInput); drained {
				return
			}
			if in != nil {
				a.handle(in)
			}
		}
	}
}

func (a *Actor[S]) handle(in Input) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	prev := a.State()
	next, effects := a.reduce(prev, in)
	a.stateMu.Lock()
	a.state = next
	a.stateMu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, a.emit)
	}
}

// emit never blocks: the loop would otherwise wait on its own mailbox.
func (a *Actor[S]) emit(in Input) {
	select {
	case a.mailbox <- in:
	default:
	}
}
