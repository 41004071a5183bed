// Package inmem provides an in-memory run store. It backs tests and local
// development; documents are deep-copied on save and load so callers never
// share mutable state with the store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/threadrun/threadrun/runtime/run"
)

// Store implements run.Store in memory.
type Store struct {
	mu       sync.RWMutex
	runs     map[string]run.Run
	steps    map[string]run.Step
	messages map[string]run.Message
}

// New returns an empty store.
func New() *Store {
	return &Store{
		runs:     make(map[string]run.Run),
		steps:    make(map[string]run.Step),
		messages: make(map[string]run.Message),
	}
}

// LoadRun implements run.Store.
func (s *Store) LoadRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	copied := r
	copied.Tools = append([]run.ToolUsage(nil), r.Tools...)
	return &copied, nil
}

// SaveRun implements run.Store.
func (s *Store) SaveRun(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	copied.Tools = append([]run.ToolUsage(nil), r.Tools...)
	s.runs[r.ID] = copied
	return nil
}

// SaveStep implements run.Store.
func (s *Store) SaveStep(_ context.Context, step *run.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.ID] = *step
	return nil
}

// SaveMessage implements run.Store.
func (s *Store) SaveMessage(_ context.Context, m *run.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = *m
	return nil
}

// CountRunsCreatedSince implements run.Store.
func (s *Store) CountRunsCreatedSince(_ context.Context, createdBy string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, r := range s.runs {
		if r.CreatedBy == createdBy && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Step returns a saved step by id. Test helper.
func (s *Store) Step(id string) (run.Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	return st, ok
}

// Steps returns every saved step for the run. Test helper.
func (s *Store) Steps(runID string) []run.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var steps []run.Step
	for _, st := range s.steps {
		if st.RunID == runID {
			steps = append(steps, st)
		}
	}
	return steps
}

// Messages returns every saved message for the run. Test helper.
func (s *Store) Messages(runID string) []run.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []run.Message
	for _, m := range s.messages {
		if m.RunID == runID {
			msgs = append(msgs, m)
		}
	}
	return msgs
}
