// Package session holds per-participant play state: the scenario snapshot,
// the local allocations and the derived coverage, behind a command interface.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/coverage"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
	"github.com/Cinaedin/ResourceGame/internal/submit"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrSubmitInFlight = errors.New("submission already in progress")
)

type Session struct {
	ID       string
	Snapshot *scenario.Snapshot

	mu         sync.Mutex
	store      *alloc.Store
	engine     *coverage.Engine
	updatedAt  time.Time
	submitting atomic.Bool
}

func New(id string, snap *scenario.Snapshot, withRules bool) *Session {
	store := alloc.NewStore()
	return &Session{
		ID:        id,
		Snapshot:  snap,
		store:     store,
		engine:    coverage.New(snap, store, withRules),
		updatedAt: time.Now().UTC(),
	}
}

// Apply validates and applies one change, then recomputes the derived state.
// Changes are serialized; every change is followed by exactly one recompute.
func (s *Session) Apply(cmd alloc.Command) (coverage.Derived, error) {
	if err := cmd.Validate(); err != nil {
		return coverage.Derived{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd.Apply(s.store)
	s.updatedAt = time.Now().UTC()
	return s.engine.Derive(), nil
}

func (s *Session) Derived() coverage.Derived {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Derive()
}

// Allocations returns a copy of the current allocations.
func (s *Session) Allocations() ([]domain.TimeAllocation, []domain.MoneyAllocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.TimeAllocations(), s.store.MoneyAllocations()
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Restore replaces the allocations, e.g. after loading persisted state.
func (s *Session) Restore(st State) coverage.Derived {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Load(st.Time, st.Money)
	s.updatedAt = time.Now().UTC()
	return s.engine.Derive()
}

// Submit hands a copy of the allocations to the assembler. A second call
// while one is running fails with ErrSubmitInFlight and writes nothing.
func (s *Session) Submit(ctx context.Context, a submit.Assembler, playerName string) (submit.Receipt, error) {
	if !s.submitting.CompareAndSwap(false, true) {
		return submit.Receipt{}, ErrSubmitInFlight
	}
	defer s.submitting.Store(false)

	s.mu.Lock()
	store := s.store.Clone()
	warnings := s.engine.Warnings()
	s.mu.Unlock()

	return a.Submit(ctx, playerName, store, warnings)
}

// Submitting reports whether a submission is in flight.
func (s *Session) Submitting() bool { return s.submitting.Load() }

// State is the persisted form of a session.
type State struct {
	ScenarioID string                   `json:"scenario_id"`
	Time       []domain.TimeAllocation  `json:"time"`
	Money      []domain.MoneyAllocation `json:"money"`
}

func (s *Session) State() State {
	t, m := s.Allocations()
	return State{ScenarioID: s.Snapshot.ID(), Time: t, Money: m}
}
