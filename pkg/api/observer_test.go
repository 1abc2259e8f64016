package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver records the callbacks it receives, in order.
type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, s)
}

func (o *recordingObserver) OnRunCreated(ctx context.Context, run *Run)   { o.add("created") }
func (o *recordingObserver) OnAttemptStart(ctx context.Context, run *Run) { o.add("attempt") }
func (o *recordingObserver) OnRetryScheduled(ctx context.Context, run *Run, err error, delay time.Duration) {
	o.add("retry")
}
func (o *recordingObserver) OnRunSucceeded(ctx context.Context, run *Run)         { o.add("succeeded") }
func (o *recordingObserver) OnRunFailed(ctx context.Context, run *Run, err error) { o.add("failed") }
func (o *recordingObserver) OnStepStart(ctx context.Context, run *Run, label string) {
	o.add("step:" + label)
}
func (o *recordingObserver) OnStepMemoized(ctx context.Context, run *Run, label string) {
	o.add("memo:" + label)
}
func (o *recordingObserver) OnStepCompleted(ctx context.Context, run *Run, label string, err error, d time.Duration) {
	o.add("done:" + label)
}

// drive sends one of every callback to obs.
func drive(obs Observer) {
	ctx := context.Background()
	run := &Run{ID: "r1", WorkflowID: "wf", Attempts: 1, Event: Event{ID: "e1", Name: "demo/x"}}
	obs.OnRunCreated(ctx, run)
	obs.OnAttemptStart(ctx, run)
	obs.OnStepStart(ctx, run, "a")
	obs.OnStepCompleted(ctx, run, "a", errors.New("boom"), time.Millisecond)
	obs.OnRetryScheduled(ctx, run, errors.New("boom"), time.Second)
	run.Attempts = 2
	obs.OnAttemptStart(ctx, run)
	obs.OnStepMemoized(ctx, run, "a")
	obs.OnStepStart(ctx, run, "b")
	obs.OnStepCompleted(ctx, run, "b", nil, 3*time.Millisecond)
	obs.OnRunSucceeded(ctx, run)
	obs.OnRunFailed(ctx, &Run{ID: "r2", WorkflowID: "wf"}, Terminal(errors.New("bad")))
}

func TestCompositeObserver_FansOutInOrder(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	drive(NewCompositeObserver(a, nil, b))

	want := []string{
		"created", "attempt", "step:a", "done:a", "retry",
		"attempt", "memo:a", "step:b", "done:b", "succeeded", "failed",
	}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
}

func TestNewCompositeObserver_Collapses(t *testing.T) {
	assert.Equal(t, NoopObserver{}, NewCompositeObserver())
	assert.Equal(t, NoopObserver{}, NewCompositeObserver(nil, nil))

	only := &recordingObserver{}
	assert.Same(t, only, NewCompositeObserver(nil, only))
}

func TestLoggingObserver_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	drive(NewLoggingObserver(logger))

	var msgs []string
	var failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		msgs = append(msgs, rec["msg"].(string))
		if rec["msg"] == "run_failed" {
			failed = rec
		}
	}
	assert.Equal(t, []string{
		"run_created", "attempt_start", "step_start", "step_completed", "retry_scheduled",
		"attempt_start", "step_memoized", "step_start", "step_completed", "run_succeeded", "run_failed",
	}, msgs)

	require.NotNil(t, failed)
	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, "terminal", failed["kind"])
	assert.Equal(t, "r2", failed["run_id"])
}

func TestLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	obs := NewLoggingObserver(nil).(*LoggingObserver)
	assert.Same(t, slog.Default(), obs.Logger)
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	m := &BasicMetrics{}
	drive(m)
	m.OnRunCreated(context.Background(), &Run{ID: "r3"})

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.RunsCreated)
	assert.EqualValues(t, 1, snap.RunsSucceeded)
	assert.EqualValues(t, 1, snap.RunsFailed)
	assert.EqualValues(t, 0, snap.PendingRuns)
	assert.EqualValues(t, 2, snap.Attempts)
	assert.EqualValues(t, 1, snap.Retries)
	assert.EqualValues(t, 1, snap.StepsCompleted)
	assert.EqualValues(t, 1, snap.StepsMemoized)
	assert.Equal(t, 3*time.Millisecond, snap.AvgStepDuration)
}
