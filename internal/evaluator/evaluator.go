// Package evaluator implements the stateful parity evaluator.
//
// An Evaluator owns exactly one mutable value, its State, and only touches it
// inside a critical section guarded by an atomiclock.Mutex. Every call to
// IsEven is one critical section: acquire, compute, record, release.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/bhandras/evalworker/internal/atomiclock"
	"github.com/bhandras/evalworker/internal/metrics"
)

// State is the guarded state of an Evaluator.
type State struct {
	// Evaluations is the number of completed critical sections.
	Evaluations uint64

	// Evens is how many of those evaluations returned true.
	Evens uint64

	// LastRequest and LastResult describe the most recent evaluation. They are
	// zero until the first evaluation completes.
	LastRequest int64
	LastResult  bool
}

// Hooks observe the critical section. Both run while the lock is held, so
// they must not call back into the same Evaluator.
type Hooks struct {
	// OnEnter is called right after the lock is acquired with the state left
	// by the previous critical section.
	OnEnter func(prev State)
	// OnExit is called right before the lock is released with the state this
	// critical section leaves behind.
	OnExit func(next State)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithHooks attaches critical section hooks.
func WithHooks(hooks Hooks) Option {
	return func(e *Evaluator) { e.hooks = hooks }
}

// Evaluator answers parity queries under an atomic lock.
type Evaluator struct {
	state *atomiclock.Mutex[State]
	hooks Hooks
}

// New returns an Evaluator with a free lock and zero state.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		state: atomiclock.NewMutex(State{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsEven reports whether n is even, waiting as long as needed for the lock.
func (e *Evaluator) IsEven(n int64) bool {
	even, _ := e.IsEvenContext(context.Background(), n)
	return even
}

// IsEvenContext is IsEven with a bounded wait. If ctx ends before the lock is
// acquired the error wraps atomiclock.ErrTimeout and neither the lock nor the
// state is changed.
func (e *Evaluator) IsEvenContext(ctx context.Context, n int64) (bool, error) {
	start := time.Now()
	g, err := e.state.Lock(ctx)
	if err != nil {
		metrics.LockTimeouts.Inc()
		return false, fmt.Errorf("evaluate %d: %w", n, err)
	}
	defer g.Unlock()
	metrics.LockWait.Observe(time.Since(start).Seconds())

	st := g.Ptr()
	if e.hooks.OnEnter != nil {
		e.hooks.OnEnter(*st)
	}

	even := isEven(n)
	st.Evaluations++
	if even {
		st.Evens++
	}
	st.LastRequest = n
	st.LastResult = even

	if e.hooks.OnExit != nil {
		e.hooks.OnExit(*st)
	}

	if even {
		metrics.Evaluations.WithLabelValues("even").Inc()
	} else {
		metrics.Evaluations.WithLabelValues("odd").Inc()
	}
	return even, nil
}

// Hold takes the lock without evaluating and keeps it until release is
// called. It is used to stall the evaluator, for example to exercise
// callers' timeouts. release is safe to call more than once.
func (e *Evaluator) Hold(ctx context.Context) (release func(), err error) {
	g, err := e.state.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("hold: %w", err)
	}
	return g.Unlock, nil
}

// Snapshot returns a copy of the guarded state. It waits for any in-flight
// evaluation to finish.
func (e *Evaluator) Snapshot() State {
	return e.state.Load()
}

// isEven tests the low bit, which is correct for every two's complement
// int64 including math.MinInt64.
func isEven(n int64) bool {
	return n&1 == 0
}
