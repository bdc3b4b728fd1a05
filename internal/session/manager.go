package session

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Manager owns the live sessions of a process. Each session keeps its own
// evaluator; the manager only tracks them for lookup and shutdown.
type Manager struct {
	base Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager that opens sessions from base. base.ID is
// ignored; every session gets a fresh id.
func NewManager(base Config) *Manager {
	return &Manager{
		base:     base,
		sessions: make(map[string]*Session),
	}
}

// Open creates and starts a session. On readiness failure the session is not
// registered and the InitializationError is returned.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	cfg := m.base
	cfg.ID = ""
	s := New(cfg)

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	go func() {
		<-s.Done()
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
	}()
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns the ids of live sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every live session, waiting for each to drain or for ctx to
// end.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
