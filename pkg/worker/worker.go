package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/backoff"
	"github.com/petrijr/ticketflow/pkg/bus"
)

// Config controls how a Worker treats tasks it could not complete.
type Config struct {
	// MaxAttempts bounds how many times a task is handed back to the queue
	// after an infrastructure failure. Zero means 5.
	MaxAttempts int

	// Backoff is the initial requeue delay; it doubles per attempt up to
	// one minute. Zero means 500ms.
	Backoff time.Duration

	// LeaseRetry is how long to wait before retrying a run that another
	// worker holds. Zero means one second.
	LeaseRetry time.Duration

	// Logger receives task-level logs. Nil means slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.LeaseRetry <= 0 {
		c.LeaseRetry = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	bus    *bus.Bus
	cfg    Config
	delay  backoff.Strategy
	now    func() time.Time
}

// New creates a Worker with the default Config.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		engine: engine,
		queue:  queue,
		bus:    bus.New(engine, queue),
		cfg:    cfg,
		delay:  backoff.NewExponential(cfg.Backoff, time.Minute),
		now:    time.Now,
	}
}

// Bus returns the bus publishing into this worker's queue.
func (w *Worker) Bus() *bus.Bus { return w.bus }

// Publish is shorthand for w.Bus().Publish.
func (w *Worker) Publish(ctx context.Context, ev api.Event) (api.Event, error) {
	return w.bus.Publish(ctx, ev)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error,
//     usually the context's.
//   - processed == true: a task was handled; err is the outcome. A run that
//     ended FAILED is reported here, as are tasks dropped after MaxAttempts.
//     Tasks handed back to the queue report a nil error.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskDeliverEvent:
		return true, w.deliver(ctx, task)
	case taskqueue.TaskExecuteRun:
		return true, w.execute(ctx, task)
	default:
		return true, fmt.Errorf("task %s: %w: %q", task.ID, taskqueue.ErrUnknownTaskType, task.Type)
	}
}

func (w *Worker) deliver(ctx context.Context, task *taskqueue.Task) error {
	runs, err := w.bus.Dispatch(ctx, task.Event)
	if err == nil {
		w.cfg.Logger.DebugContext(ctx, "event_delivered",
			slog.String("event", task.Event.Name),
			slog.String("event_id", task.Event.ID),
			slog.Int("runs", len(runs)),
		)
		return nil
	}
	if errors.Is(err, api.ErrInvalidEvent) {
		return err
	}
	if len(runs) > 0 {
		// Redelivering would duplicate the runs that exist, so schedule
		// them directly. Extra execute-run tasks for a run are harmless.
		return errors.Join(err, w.schedule(ctx, runs))
	}
	return w.requeue(ctx, task, w.delay.Delay(task.Attempts+1), err)
}

// schedule enqueues an execute-run task for each of runs after the first
// backoff delay.
func (w *Worker) schedule(ctx context.Context, runs []*api.Run) error {
	notBefore := w.now().Add(w.delay.Delay(1))
	var errs []error
	for _, run := range runs {
		t := taskqueue.ExecuteRun(run.ID)
		t.NotBefore = notBefore
		if err := w.queue.Enqueue(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("schedule run %s: %w", run.ID, err))
		}
	}
	w.cfg.Logger.WarnContext(ctx, "runs_rescheduled",
		slog.Int("runs", len(runs)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (w *Worker) execute(ctx context.Context, task *taskqueue.Task) error {
	run, err := w.engine.ExecuteRun(ctx, task.RunID)
	switch {
	case err == nil:
		return nil
	case run != nil && run.Status.Terminal():
		// FAILED is an outcome, not a reason to redeliver.
		return err
	case errors.Is(err, api.ErrRunNotFound):
		return err
	case errors.Is(err, api.ErrRunLeased):
		return w.requeue(ctx, task, w.cfg.LeaseRetry, err)
	case ctx.Err() != nil:
		// Shutting down; the run is still PENDING.
		return w.requeue(context.WithoutCancel(ctx), task, 0, err)
	default:
		return w.requeue(ctx, task, w.delay.Delay(task.Attempts+1), err)
	}
}

// requeue hands task back to the queue after delay, or drops it with cause
// once MaxAttempts is reached.
func (w *Worker) requeue(ctx context.Context, task *taskqueue.Task, delay time.Duration, cause error) error {
	next := *task
	next.Attempts++
	if next.Attempts >= w.cfg.MaxAttempts {
		return fmt.Errorf("task %s dropped after %d attempts: %w", task.ID, next.Attempts, cause)
	}
	next.NotBefore = w.now().Add(delay)

	if err := w.queue.Enqueue(ctx, next); err != nil {
		return errors.Join(cause, fmt.Errorf("requeue task %s: %w", task.ID, err))
	}
	w.cfg.Logger.DebugContext(ctx, "task_requeued",
		slog.String("task_id", task.ID),
		slog.String("type", string(task.Type)),
		slog.Int("attempts", next.Attempts),
		slog.Duration("delay", delay),
		slog.Any("error", cause),
	)
	return nil
}

// Recover enqueues an execute-run task for every PENDING run. Call it once
// on startup, before Run, to pick up runs interrupted by a crash.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	ids, err := w.engine.PendingRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: list pending runs: %w", err)
	}
	for i, id := range ids {
		if err := w.queue.Enqueue(ctx, taskqueue.ExecuteRun(id)); err != nil {
			return i, fmt.Errorf("recover: enqueue run %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		w.cfg.Logger.InfoContext(ctx, "runs_recovered", slog.Int("count", len(ids)))
	}
	return len(ids), nil
}

// Run freezes the workflow registry and processes tasks with concurrency
// goroutines until ctx is cancelled. Cancellation is a clean shutdown and
// returns nil; task failures are logged and do not stop the loop.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.engine.Freeze()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				processed, err := w.ProcessOne(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil && !processed {
					return nil
				}
				if processed {
					w.cfg.Logger.ErrorContext(ctx, "task_failed", slog.Any("error", err))
					continue
				}
				// The queue itself failed; back off before polling again.
				w.cfg.Logger.ErrorContext(ctx, "dequeue_failed", slog.Any("error", err))
				t := time.NewTimer(w.cfg.Backoff)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
		})
	}
	return g.Wait()
}
