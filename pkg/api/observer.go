package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunCreated is called once when an event is matched to a workflow.
	OnRunCreated(ctx context.Context, run *Run)

	// OnAttemptStart is called before every attempt; run.Attempts is the
	// 1-based number of the attempt about to start.
	OnAttemptStart(ctx context.Context, run *Run)

	// OnRetryScheduled is called when a retriable failure will be retried
	// after delay.
	OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration)

	// OnRunSucceeded is called when a run reaches StatusSucceeded.
	OnRunSucceeded(ctx context.Context, run *Run)

	// OnRunFailed is called when a run reaches StatusFailed.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnStepStart is called before invoking a step body.
	OnStepStart(ctx context.Context, run *Run, label string)

	// OnStepMemoized is called when a step is answered from the store and
	// its body is skipped.
	OnStepMemoized(ctx context.Context, run *Run, label string)

	// OnStepCompleted is called after a step body returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, run *Run, label string, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunCreated(ctx context.Context, run *Run) {}

func (NoopObserver) OnAttemptStart(ctx context.Context, run *Run) {}

func (NoopObserver) OnRunSucceeded(ctx context.Context, run *Run) {}

func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error) {}

func (NoopObserver) OnStepStart(ctx context.Context, run *Run, label string) {}

func (NoopObserver) OnStepMemoized(ctx context.Context, run *Run, label string) {}

func (NoopObserver) OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration) {
}

func (NoopObserver) OnStepCompleted(ctx context.Context, run *Run, label string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunCreated(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCreated(ctx, run)
	}
}

func (c *CompositeObserver) OnAttemptStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnAttemptStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration) {
	for _, o := range c.observers {
		o.OnRetryScheduled(ctx, run, err, delay)
	}
}

func (c *CompositeObserver) OnRunSucceeded(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunSucceeded(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run *Run, label string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, label)
	}
}

func (c *CompositeObserver) OnStepMemoized(ctx context.Context, run *Run, label string) {
	for _, o := range c.observers {
		o.OnStepMemoized(ctx, run, label)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *Run, label string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, label, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunCreated(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_created",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.String("event", run.Event.Name),
		slog.String("event_id", run.Event.ID),
	)
}

func (o *LoggingObserver) OnAttemptStart(ctx context.Context, run *Run) {
	o.Logger.DebugContext(ctx, "attempt_start",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.Int("attempt", run.Attempts),
	)
}

func (o *LoggingObserver) OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration) {
	o.Logger.WarnContext(ctx, "retry_scheduled",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.Int("attempt", run.Attempts),
		slog.Duration("delay", delay),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunSucceeded(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_succeeded",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.Int("attempts", run.Attempts),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.Int("attempts", run.Attempts),
		slog.String("kind", Classify(err).String()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run *Run, label string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.String("step", label),
	)
}

func (o *LoggingObserver) OnStepMemoized(ctx context.Context, run *Run, label string) {
	o.Logger.DebugContext(ctx, "step_memoized",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.String("step", label),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *Run, label string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow_id", run.WorkflowID),
		slog.String("run_id", run.ID),
		slog.String("step", label),
		slog.Int("attempt", run.Attempts),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsCreated       atomic.Int64
	runsSucceeded     atomic.Int64
	runsFailed        atomic.Int64
	attempts          atomic.Int64
	retries           atomic.Int64
	stepsCompleted    atomic.Int64
	stepsMemoized     atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsCreated   int64
	RunsSucceeded int64
	RunsFailed    int64
	PendingRuns   int64
	Attempts      int64
	Retries       int64

	StepsCompleted  int64
	StepsMemoized   int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunCreated(ctx context.Context, run *Run) {
	m.runsCreated.Add(1)
}

func (m *BasicMetrics) OnAttemptStart(ctx context.Context, run *Run) {
	m.attempts.Add(1)
}

func (m *BasicMetrics) OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration) {
	m.retries.Add(1)
}

func (m *BasicMetrics) OnRunSucceeded(ctx context.Context, run *Run) {
	m.runsSucceeded.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepMemoized(ctx context.Context, run *Run, label string) {
	m.stepsMemoized.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run *Run, label string, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	created := m.runsCreated.Load()
	succeeded := m.runsSucceeded.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsCreated:     created,
		RunsSucceeded:   succeeded,
		RunsFailed:      failed,
		PendingRuns:     created - succeeded - failed,
		Attempts:        m.attempts.Load(),
		Retries:         m.retries.Load(),
		StepsCompleted:  steps,
		StepsMemoized:   m.stepsMemoized.Load(),
		AvgStepDuration: avg,
	}
}
