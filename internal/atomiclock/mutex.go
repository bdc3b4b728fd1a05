package atomiclock

import "context"

// Mutex guards a value of type T with an AtomicLock. The value is only
// reachable through a Guard, which exists only while the lock is held.
type Mutex[T any] struct {
	lock  AtomicLock
	value T
}

// NewMutex returns a free Mutex holding v.
func NewMutex[T any](v T) *Mutex[T] {
	return &Mutex[T]{value: v}
}

// TryLock returns a guard if the lock was free.
func (m *Mutex[T]) TryLock() (*Guard[T], bool) {
	if !m.lock.TryLock() {
		return nil, false
	}
	return &Guard[T]{m: m}, true
}

// Lock waits for the lock and returns a guard. On timeout the value is left
// untouched and err wraps ErrTimeout.
func (m *Mutex[T]) Lock(ctx context.Context) (*Guard[T], error) {
	if err := m.lock.Lock(ctx); err != nil {
		return nil, err
	}
	return &Guard[T]{m: m}, nil
}

// IsLocked reports whether a guard is currently outstanding.
func (m *Mutex[T]) IsLocked() bool {
	return m.lock.IsLocked()
}

// Load waits for the lock and returns a copy of the guarded value, releasing
// the lock again before returning. The Mutex stays usable.
func (m *Mutex[T]) Load() T {
	g, _ := m.Lock(context.Background())
	defer g.Unlock()
	return g.Value()
}

// Guard is proof of holding a Mutex. It must be released with Unlock and must
// not be used afterwards.
type Guard[T any] struct {
	m *Mutex[T]
}

// Value returns the guarded value.
func (g *Guard[T]) Value() T {
	return g.mutex().value
}

// Set replaces the guarded value.
func (g *Guard[T]) Set(v T) {
	g.mutex().value = v
}

// Ptr returns a pointer to the guarded value, valid until Unlock.
func (g *Guard[T]) Ptr() *T {
	return &g.mutex().value
}

// Unlock releases the mutex. Calling Unlock twice on the same guard is a
// no-op.
func (g *Guard[T]) Unlock() {
	if g.m == nil {
		return
	}
	m := g.m
	g.m = nil
	m.lock.Unlock()
}

func (g *Guard[T]) mutex() *Mutex[T] {
	if g.m == nil {
		panic("atomiclock: use of released guard")
	}
	return g.m
}
