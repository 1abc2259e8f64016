package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/ticketflow/pkg/api"
)

var (
	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = api.ErrRunNotFound

	// ErrRunExists is returned by CreateRun for a duplicate id.
	ErrRunExists = errors.New("run already exists")
)

// RunFilter is used to select runs from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	WorkflowID string
	Status     api.Status
}

// RunStore handles storage of runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *api.Run) error
	UpdateRun(ctx context.Context, run *api.Run) error
	GetRun(ctx context.Context, id string) (*api.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error)

	// TryAcquireLease attempts to acquire (or re-acquire) a lease on a run.
	// If the run is currently leased by another owner and the lease has not
	// expired, it returns acquired=false, err=nil.
	//
	// Implementations treat a lease owned by the same owner as re-entrant.
	TryAcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) (acquired bool, err error)

	// ReleaseLease releases a lease if it is owned by 'owner'. It is idempotent.
	ReleaseLease(ctx context.Context, runID, owner string) error
}

// StepStore holds the memoized step successes of every run, keyed by
// (run id, label).
type StepStore interface {
	// GetStepResult returns (result, true, nil) when a success is recorded.
	GetStepResult(ctx context.Context, runID, label string) (api.StepResult, bool, error)

	// RecordStepResult stores res unless a result already exists for the
	// same key, and returns the stored result. The first writer wins; a
	// second write is a no-op.
	RecordStepResult(ctx context.Context, res api.StepResult) (api.StepResult, error)

	// ListStepResults returns the results of a run ordered by record time.
	ListStepResults(ctx context.Context, runID string) ([]api.StepResult, error)
}

// HistoryStore is an append-only history store for run execution events.
type HistoryStore interface {
	AppendHistory(ctx context.Context, ev api.HistoryEvent) error
	ListHistory(ctx context.Context, runID string) ([]api.HistoryEvent, error)
}

// NoopHistoryStore discards all events.
type NoopHistoryStore struct{}

func (NoopHistoryStore) AppendHistory(ctx context.Context, ev api.HistoryEvent) error { return nil }

func (NoopHistoryStore) ListHistory(ctx context.Context, runID string) ([]api.HistoryEvent, error) {
	return nil, nil
}

// Persistence bundles the store interfaces so the engine
// can depend on a single abstraction.
type Persistence struct {
	Runs    RunStore
	Steps   StepStore
	History HistoryStore
}

// Store is implemented by backends that provide all three stores.
type Store interface {
	RunStore
	StepStore
	HistoryStore
}

// FromStore fills every field of Persistence from one backend.
func FromStore(s Store) Persistence {
	return Persistence{Runs: s, Steps: s, History: s}
}
