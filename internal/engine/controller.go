package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/backoff"
)

// Controller drives a run to a terminal state. It is the only place
// where a failure is turned into a retry or a FAILED run.
type Controller struct {
	runs     persistence.RunStore
	history  persistence.HistoryStore
	executor *StepExecutor
	observer api.Observer
	now      func() time.Time

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

// NewController returns a controller that executes steps through x.
func NewController(runs persistence.RunStore, history persistence.HistoryStore, x *StepExecutor, obs api.Observer) *Controller {
	if history == nil {
		history = persistence.NoopHistoryStore{}
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Controller{
		runs:     runs,
		history:  history,
		executor: x,
		observer: obs,
		now:      time.Now,
		wait:     sleepContext,
	}
}

// Execute runs def for run until it succeeds, fails terminally or exhausts
// its retry budget of def.MaxRetries re-attempts.
//
// Runs that are already terminal are returned as-is. When ctx is cancelled
// the run is left PENDING and ctx.Err() is returned.
func (c *Controller) Execute(ctx context.Context, run *api.Run, def api.WorkflowDefinition) (*api.Run, error) {
	if run.Status.Terminal() {
		return run, nil
	}

	maxAttempts := def.MaxRetries + 1
	for {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		// A recovered run may already have used every attempt.
		if run.Attempts >= maxAttempts {
			err := fmt.Errorf("%w: %d of %d attempts used", api.ErrRetryBudgetExhausted, run.Attempts, maxAttempts)
			if run.Err != nil {
				err = fmt.Errorf("%w (last error: %v)", err, run.Err)
			}
			return run, c.fail(ctx, run, err)
		}

		run.Attempts++
		run.UpdatedAt = c.now()
		if err := c.runs.UpdateRun(ctx, run); err != nil {
			return run, fmt.Errorf("run %s: persist attempt %d: %w", run.ID, run.Attempts, err)
		}
		c.record(ctx, run, api.HistoryRunAttempt, "")
		c.observer.OnAttemptStart(ctx, run)

		out, err := c.executor.RunWorkflow(ctx, run, def)
		if err == nil {
			return run, c.succeed(ctx, run, out)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return run, ctxErr
		}

		if api.IsTerminal(err) || run.Attempts >= maxAttempts {
			return run, c.fail(ctx, run, err)
		}

		// Keep the last error visible while the run waits for its retry.
		run.Err = err
		run.UpdatedAt = c.now()
		if uerr := c.runs.UpdateRun(ctx, run); uerr != nil {
			return run, fmt.Errorf("run %s: persist retry: %w", run.ID, uerr)
		}

		delay := backoff.DelayFor(def.Backoff, run.Attempts)
		c.observer.OnRetryScheduled(ctx, run, err, delay)
		if werr := c.wait(ctx, delay); werr != nil {
			return run, werr
		}
	}
}

func (c *Controller) succeed(ctx context.Context, run *api.Run, out any) error {
	run.Status = api.StatusSucceeded
	run.Output = out
	run.Err = nil
	run.UpdatedAt = c.now()
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("run %s: persist success: %w", run.ID, err)
	}
	c.record(ctx, run, api.HistoryRunSucceeded, "")
	c.observer.OnRunSucceeded(ctx, run)
	return nil
}

// fail marks run FAILED and returns cause, or the persistence error if
// the state could not be saved.
func (c *Controller) fail(ctx context.Context, run *api.Run, cause error) error {
	run.Status = api.StatusFailed
	run.Err = cause
	run.UpdatedAt = c.now()
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		return errors.Join(cause, fmt.Errorf("run %s: persist failure: %w", run.ID, err))
	}
	c.record(ctx, run, api.HistoryRunFailed, fmt.Sprintf("%s: %v", api.Classify(cause), cause))
	c.observer.OnRunFailed(ctx, run, cause)
	return cause
}

func (c *Controller) record(ctx context.Context, run *api.Run, typ api.HistoryType, detail string) {
	_ = c.history.AppendHistory(ctx, api.HistoryEvent{
		RunID:      run.ID,
		At:         c.now(),
		Type:       typ,
		WorkflowID: run.WorkflowID,
		Attempt:    run.Attempts,
		Detail:     detail,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
