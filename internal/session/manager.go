package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/coverage"
	"github.com/Cinaedin/ResourceGame/internal/logging"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
)

// Persister mirrors session allocations outside the process.
type Persister interface {
	Save(ctx context.Context, id string, st State) error
	Load(ctx context.Context, id string) (State, error)
	Delete(ctx context.Context, id string) error
}

// SnapshotFunc returns the snapshot new and restored sessions play against.
type SnapshotFunc func(ctx context.Context) (*scenario.Snapshot, error)

// Manager keeps the live sessions of a server process.
type Manager struct {
	Snapshot  SnapshotFunc
	Persister Persister
	WithRules bool
	Log       *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(snap SnapshotFunc, withRules bool) *Manager {
	return &Manager{Snapshot: snap, WithRules: withRules, sessions: map[string]*Session{}}
}

func (m *Manager) log() *logging.Logger {
	if m.Log != nil {
		return m.Log
	}
	return logging.Nop()
}

// Create starts a session against a freshly loaded snapshot.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s := New(uuid.NewString(), snap, m.WithRules)
	m.putIfAbsent(s)
	if m.Persister != nil {
		if err := m.Persister.Save(ctx, s.ID, s.State()); err != nil {
			m.log().Warn("session mirror failed", "session_id", s.ID, "error", err)
		}
	}
	return s, nil
}

// putIfAbsent stores s unless a session with the same id is already live,
// and returns whichever session is live afterwards.
func (m *Manager) putIfAbsent(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]*Session{}
	}
	if live, ok := m.sessions[s.ID]; ok {
		return live
	}
	m.sessions[s.ID] = s
	return s
}

// Get returns a live session, restoring it from the persister if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.Persister == nil {
		return nil, ErrNotFound
	}
	st, err := m.Persister.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if st.ScenarioID != "" && st.ScenarioID != snap.ID() {
		return nil, fmt.Errorf("session %s belongs to scenario %s: %w", id, st.ScenarioID, ErrNotFound)
	}
	s = New(id, snap, m.WithRules)
	s.Restore(st)
	// A concurrent Get may have restored the same id first.
	return m.putIfAbsent(s), nil
}

// Apply runs cmd on the session and mirrors the result.
func (m *Manager) Apply(ctx context.Context, id string, cmd alloc.Command) (coverage.Derived, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return coverage.Derived{}, err
	}
	d, err := s.Apply(cmd)
	if err != nil {
		return coverage.Derived{}, err
	}
	if m.Persister != nil {
		if err := m.Persister.Save(ctx, id, s.State()); err != nil {
			m.log().Warn("session mirror failed", "session_id", id, "error", err)
		}
	}
	return d, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if m.Persister != nil {
		err := m.Persister.Delete(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			if ok {
				return nil
			}
			return ErrNotFound
		case err != nil:
			return err
		}
		return nil
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
