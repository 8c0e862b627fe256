// Package inmem provides a process-local memory.Store implementation backed
// by a mutex-guarded map, suitable for tests and single-process deployments.
// Durable deployments should implement memory.Store against an external
// backend instead.
package inmem

import (
	"context"
	"sync"

	"goa.design/tools-provider/agents/runtime/memory"
)

// Store is an in-memory, thread-safe implementation of memory.Store. The
// zero value is not usable; construct with New.
type Store struct {
	mu   sync.RWMutex
	runs map[string][]memory.Event
}

// New constructs an empty, ready-to-use in-memory store.
func New() *Store {
	return &Store{runs: make(map[string][]memory.Event)}
}

func runKey(agentID, runID string) string {
	return agentID + ":" + runID
}

// LoadRun returns a snapshot of the events persisted for agentID/runID. The
// returned slice is a copy so callers can freely mutate it without affecting
// the store's internal state.
func (s *Store) LoadRun(ctx context.Context, agentID, runID string) (memory.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.runs[runKey(agentID, runID)]
	out := make([]memory.Event, len(events))
	copy(out, events)
	return memory.Snapshot{AgentID: agentID, RunID: runID, Events: out}, nil
}

// AppendEvents appends events to the run's history, in order.
func (s *Store) AppendEvents(ctx context.Context, agentID, runID string, events ...memory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey(agentID, runID)
	s.runs[key] = append(s.runs[key], events...)
	return nil
}
