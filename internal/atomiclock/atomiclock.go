// Package atomiclock provides a binary exclusion token built on a single
// atomic word, plus a generic Mutex that guards a value with it.
//
// Acquisition is one compare-and-swap from free to held. Blocking acquisition
// retries that CAS with a bounded backoff until it succeeds or the caller's
// context ends. A waiter that gives up never touches the lock word.
package atomiclock

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

const isLocked uint32 = 1 << 0

const (
	spinAttempts = 16
	minBackoff   = 5 * time.Microsecond
	maxBackoff   = time.Millisecond
)

// ErrTimeout is returned when a bounded wait ends before the lock is acquired.
var ErrTimeout = errors.New("atomiclock: timed out waiting for lock")

// AtomicLock is a non-reentrant exclusion token. The zero value is free.
//
// An AtomicLock must not be copied after first use.
type AtomicLock struct {
	_     noCopy
	state atomic.Uint32
}

// TryLock attempts to take the lock without waiting. It reports whether the
// caller now holds it.
func (l *AtomicLock) TryLock() bool {
	return l.state.CompareAndSwap(0, isLocked)
}

// Lock takes the lock, waiting until it is free or ctx is done. When ctx ends
// first the returned error wraps both ErrTimeout and the context error.
func (l *AtomicLock) Lock(ctx context.Context) error {
	if l.TryLock() {
		return nil
	}

	for i := 0; i < spinAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(ErrTimeout, err)
		}
		runtime.Gosched()
		if l.TryLock() {
			return nil
		}
	}

	backoff := minBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Join(ErrTimeout, ctx.Err())
		case <-timer.C:
		}
		if l.TryLock() {
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		timer.Reset(backoff)
	}
}

// Unlock releases the lock. Releasing a free lock is a programming error and
// panics.
func (l *AtomicLock) Unlock() {
	if !l.state.CompareAndSwap(isLocked, 0) {
		panic("atomiclock: unlock of unlocked lock")
	}
}

// IsLocked reports whether the lock is currently held by anyone.
func (l *AtomicLock) IsLocked() bool {
	return l.state.Load()&isLocked != 0
}

// noCopy is picked up by go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
