package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/pkg/api"
)

// StepExecutor runs labelled steps at most once per run. A success is
// recorded under (run id, label) and replayed on every later attempt
// instead of invoking the body again. Failures are never recorded as
// results; the executor passes them through unclassified.
type StepExecutor struct {
	steps    persistence.StepStore
	history  persistence.HistoryStore
	observer api.Observer
	now      func() time.Time
}

// NewStepExecutor returns an executor over the given stores.
func NewStepExecutor(steps persistence.StepStore, history persistence.HistoryStore, obs api.Observer) *StepExecutor {
	if history == nil {
		history = persistence.NoopHistoryStore{}
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &StepExecutor{
		steps:    steps,
		history:  history,
		observer: obs,
		now:      time.Now,
	}
}

// RunStep returns the recorded value for (run.ID, label) or, when none
// exists, invokes body and records its result.
//
// If another execution recorded the same step first, its value wins and
// is returned in place of ours.
func (x *StepExecutor) RunStep(ctx context.Context, run *api.Run, label string, body func(ctx context.Context) (any, error)) (any, error) {
	res, ok, err := x.steps.GetStepResult(ctx, run.ID, label)
	if err != nil {
		return nil, fmt.Errorf("step %q: load result: %w", label, err)
	}
	if ok {
		v, err := persistence.DecodeValue[any](res.Value)
		if err != nil {
			return nil, api.Terminal(fmt.Errorf("step %q: %w", label, err))
		}
		x.observer.OnStepMemoized(ctx, run, label)
		x.record(ctx, run, api.HistoryStepMemoized, label, "")
		return v, nil
	}

	x.observer.OnStepStart(ctx, run, label)
	x.record(ctx, run, api.HistoryStepStarted, label, "")

	start := x.now()
	v, err := body(ctx)
	x.observer.OnStepCompleted(ctx, run, label, err, time.Since(start))

	if err != nil {
		x.record(ctx, run, api.HistoryStepFailed, label, fmt.Sprintf("%s: %v", api.Classify(err), err))
		return nil, err
	}

	data, err := persistence.EncodeValue(v)
	if err != nil {
		// The same value would fail to encode on every attempt.
		return nil, api.Terminal(fmt.Errorf("step %q: %w", label, err))
	}

	stored, err := x.steps.RecordStepResult(ctx, api.StepResult{
		RunID:      run.ID,
		Label:      label,
		Value:      data,
		RecordedAt: x.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("step %q: record result: %w", label, err)
	}
	x.record(ctx, run, api.HistoryStepCompleted, label, "")

	if string(stored.Value) == string(data) {
		return v, nil
	}
	winner, err := persistence.DecodeValue[any](stored.Value)
	if err != nil {
		return nil, api.Terminal(fmt.Errorf("step %q: %w", label, err))
	}
	return winner, nil
}

// RunWorkflow executes def's steps in order through RunStep and returns
// the value of the last one. Each step sees the values of the steps before
// it, whether they ran now or were replayed.
func (x *StepExecutor) RunWorkflow(ctx context.Context, run *api.Run, def api.WorkflowDefinition) (any, error) {
	sc := &api.StepContext{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Event:      run.Event,
		Attempt:    run.Attempts,
		Results:    make(map[string]any, len(def.Steps)),
	}

	var last any
	for _, step := range def.Steps {
		step := step
		v, err := x.RunStep(ctx, run, step.Label, func(ctx context.Context) (any, error) {
			return step.Fn(ctx, sc)
		})
		if err != nil {
			return nil, err
		}
		sc.Results[step.Label] = v
		sc.Previous = v
		last = v
	}
	return last, nil
}

// record appends to the history log. Append failures are ignored.
func (x *StepExecutor) record(ctx context.Context, run *api.Run, typ api.HistoryType, label, detail string) {
	_ = x.history.AppendHistory(ctx, api.HistoryEvent{
		RunID:      run.ID,
		At:         x.now(),
		Type:       typ,
		WorkflowID: run.WorkflowID,
		Step:       label,
		Attempt:    run.Attempts,
		Detail:     detail,
	})
}
