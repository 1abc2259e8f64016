package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/ticketflow/pkg/api"
)

type stepKey struct {
	runID string
	label string
}

type lease struct {
	owner string
	until time.Time
}

// InMemoryStore is a simple, goroutine-safe implementation of
// RunStore, StepStore and HistoryStore backed by maps.
//
// Runs are copied on the way in and out so callers never share mutable
// state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]api.Run
	steps   map[stepKey]api.StepResult
	history map[string][]api.HistoryEvent
	leases  map[string]lease
	now     func() time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:    make(map[string]api.Run),
		steps:   make(map[stepKey]api.StepResult),
		history: make(map[string][]api.HistoryEvent),
		leases:  make(map[string]lease),
		now:     time.Now,
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Run
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		r := run
		result = append(result, &r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[runID]; ok && l.owner != owner && now.Before(l.until) {
		return false, nil
	}
	s.leases[runID] = lease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, runID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[runID]; ok && l.owner == owner {
		delete(s.leases, runID)
	}
	return nil
}

func (s *InMemoryStore) GetStepResult(ctx context.Context, runID, label string) (api.StepResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.steps[stepKey{runID, label}]
	return res, ok, nil
}

func (s *InMemoryStore) RecordStepResult(ctx context.Context, res api.StepResult) (api.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stepKey{res.RunID, res.Label}
	if existing, ok := s.steps[key]; ok {
		return existing, nil
	}
	s.steps[key] = res
	return res, nil
}

func (s *InMemoryStore) ListStepResults(ctx context.Context, runID string) ([]api.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.StepResult
	for k, res := range s.steps {
		if k.runID == runID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].Label < out[j].Label
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (s *InMemoryStore) AppendHistory(ctx context.Context, ev api.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.history[ev.RunID] = append(s.history[ev.RunID], ev)
	return nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context, runID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.history[runID]
	out := make([]api.HistoryEvent, len(events))
	copy(out, events)
	return out, nil
}
