package journal

import (
	"context"
	"errors"
	"sync"
)

// ErrNotOpen is returned by Lazy before its first successful Load.
var ErrNotOpen = errors.New("journal not open")

// Lazy opens the store on first Load and pings it on every later Load, so it
// can serve as a session's readiness step and as its journal.
type Lazy struct {
	path string

	mu    sync.Mutex
	store *Store
}

// NewLazy returns a journal that opens path on first use.
func NewLazy(path string) *Lazy {
	return &Lazy{path: path}
}

// Load opens the store if needed and checks that it is reachable.
func (l *Lazy) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		store, err := Open(ctx, l.path)
		if err != nil {
			return err
		}
		l.store = store
	}
	return l.store.Ping(ctx)
}

// Record writes e to the store.
func (l *Lazy) Record(ctx context.Context, e Entry) error {
	store, err := l.get()
	if err != nil {
		return err
	}
	return store.Record(ctx, e)
}

// List returns a session's entries.
func (l *Lazy) List(ctx context.Context, sessionID string) ([]Entry, error) {
	store, err := l.get()
	if err != nil {
		return nil, err
	}
	return store.List(ctx, sessionID)
}

// Ping reports whether the store is open and reachable.
func (l *Lazy) Ping(ctx context.Context) error {
	store, err := l.get()
	if err != nil {
		return err
	}
	return store.Ping(ctx)
}

// Close closes the store if it was opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

func (l *Lazy) get() (*Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil, ErrNotOpen
	}
	return l.store, nil
}
