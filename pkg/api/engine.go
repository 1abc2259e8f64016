package api

import (
	"context"
	"fmt"
)

// Engine is the high-level engine API.
//
// Runs are created from events and executed by the retry controller.
// Publishing through a queue is layered on top by pkg/bus and pkg/worker.
type Engine interface {
	// RegisterWorkflow adds a definition to the registry. It fails with a
	// *ConflictError when the id is taken and with ErrRegistryFrozen once
	// the engine has started delivering events.
	RegisterWorkflow(def WorkflowDefinition) error

	// Workflows returns the definitions subscribed to an event name.
	Workflows(eventName string) []WorkflowDefinition

	// Freeze makes the workflow registry immutable. CreateRuns freezes it
	// implicitly; workers call Freeze when they start.
	Freeze()

	// CreateRuns validates ev and creates one PENDING run per workflow
	// subscribed to ev.Name. It does not execute them.
	CreateRuns(ctx context.Context, ev Event) ([]*Run, error)

	// ExecuteRun drives a run to a terminal state, retrying retriable
	// failures within the workflow's budget. Terminal runs are returned
	// unchanged. A run that ends FAILED is returned together with its error.
	// If another worker holds the run it fails with ErrRunLeased; if ctx
	// is cancelled the run stays PENDING and ctx.Err() is returned.
	ExecuteRun(ctx context.Context, runID string) (*Run, error)

	// Trigger is CreateRuns followed by ExecuteRun for every created run,
	// synchronously. Errors from individual runs are joined.
	Trigger(ctx context.Context, ev Event) ([]*Run, error)

	// GetRun looks up a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*Run, error)

	// StepResults returns the recorded step successes of a run.
	StepResults(ctx context.Context, runID string) ([]StepResult, error)

	// History returns the audit log of a run in append order.
	History(ctx context.Context, runID string) ([]HistoryEvent, error)

	// PendingRuns returns the IDs of runs that have not reached a terminal
	// state. It is typically called on process startup so the runs can be
	// re-enqueued after a crash.
	PendingRuns(ctx context.Context) ([]string, error)
}

// StepContext is handed to every step body.
type StepContext struct {
	RunID      string
	WorkflowID string
	Event      Event
	Attempt    int

	// Previous is the value produced by the step immediately before this
	// one, or nil for the first step.
	Previous any

	// Results holds the values of the steps that already completed in this
	// attempt, whether executed or replayed from the store.
	Results map[string]any
}

// Result returns the value recorded for an earlier step.
func (sc *StepContext) Result(label string) (any, bool) {
	v, ok := sc.Results[label]
	return v, ok
}

// ResultAs returns an earlier step's value as T.
func ResultAs[T any](sc *StepContext, label string) (T, error) {
	var zero T
	v, ok := sc.Result(label)
	if !ok {
		return zero, fmt.Errorf("step %q has no result in run %s", label, sc.RunID)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("step %q result has type %T, want %T", label, v, zero)
	}
	return t, nil
}

// PayloadAs returns the triggering event's payload as T. A mismatch is
// terminal: retrying cannot change the payload.
func PayloadAs[T Payload](sc *StepContext) (T, error) {
	p, ok := sc.Event.Payload.(T)
	if !ok {
		var zero T
		return zero, Terminalf("event %q carries %T, want %T", sc.Event.Name, sc.Event.Payload, zero)
	}
	return p, nil
}
