package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/internal/engine"
	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/api"
)

type fixture struct {
	store  *persistence.InMemoryStore
	engine api.Engine
	queue  *taskqueue.InMemoryQueue
	worker *Worker
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := persistence.NewInMemoryStore()
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.FromStore(store),
		Owner:       "worker-test",
	})
	q := taskqueue.NewInMemoryQueue()
	return &fixture{store: store, engine: eng, queue: q, worker: NewWithConfig(eng, q, cfg)}
}

func greetWorkflow(calls *int32) api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID:      "greet",
		Trigger: api.EventUserSignup,
		Steps: []api.StepDefinition{{
			Label: "greet",
			Fn: func(ctx context.Context, sc *api.StepContext) (any, error) {
				atomic.AddInt32(calls, 1)
				p, err := api.PayloadAs[api.UserSignup](sc)
				return "hi " + p.Email, err
			},
		}},
	}
}

func signup() api.Event {
	return api.NewEvent(api.UserSignup{Email: "ada@example.com"})
}

func TestWorker_PublishDeliverExecute(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	var calls int32
	require.NoError(t, f.engine.RegisterWorkflow(greetWorkflow(&calls)))

	_, err := f.worker.Publish(ctx, signup())
	require.NoError(t, err)

	processed, err := f.worker.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.Len(), "delivery enqueues one execute-run task")
	assert.Zero(t, atomic.LoadInt32(&calls))

	processed, err = f.worker.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	runs, err := f.engine.ListRuns(ctx, api.RunListOptions{WorkflowID: "greet"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.StatusSucceeded, runs[0].Status)
	assert.Equal(t, "hi ada@example.com", runs[0].Output)
}

func TestWorker_FailedRunIsReportedNotRequeued(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.engine.RegisterWorkflow(api.WorkflowDefinition{
		ID:         "broken",
		Trigger:    api.EventUserSignup,
		MaxRetries: 3,
		Steps: []api.StepDefinition{{
			Label: "boom",
			Fn: func(ctx context.Context, sc *api.StepContext) (any, error) {
				return nil, api.Terminalf("no such user")
			},
		}},
	}))

	runs, err := f.worker.Bus().Dispatch(ctx, signup())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	processed, err := f.worker.ProcessOne(ctx)
	assert.True(t, processed)
	assert.True(t, api.IsTerminal(err))
	assert.Equal(t, 0, f.queue.Len())

	run, err := f.engine.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, run.Status)
	assert.Equal(t, 1, run.Attempts)
}

func TestWorker_LeasedRunIsRequeued(t *testing.T) {
	f := newFixture(t, Config{LeaseRetry: 5 * time.Millisecond})
	ctx := context.Background()
	var calls int32
	require.NoError(t, f.engine.RegisterWorkflow(greetWorkflow(&calls)))

	runs, err := f.worker.Bus().Dispatch(ctx, signup())
	require.NoError(t, err)
	runID := runs[0].ID

	ok, err := f.store.TryAcquireLease(ctx, runID, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	processed, err := f.worker.ProcessOne(ctx)
	assert.True(t, processed)
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.Len())
	assert.Zero(t, atomic.LoadInt32(&calls))

	require.NoError(t, f.store.ReleaseLease(ctx, runID, "someone-else"))

	processed, err = f.worker.ProcessOne(ctx)
	assert.True(t, processed)
	require.NoError(t, err)

	run, err := f.engine.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSucceeded, run.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWorker_DropsTaskAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2, LeaseRetry: time.Millisecond})
	ctx := context.Background()
	var calls int32
	require.NoError(t, f.engine.RegisterWorkflow(greetWorkflow(&calls)))

	runs, err := f.worker.Bus().Dispatch(ctx, signup())
	require.NoError(t, err)
	_, err = f.store.TryAcquireLease(ctx, runs[0].ID, "someone-else", time.Minute)
	require.NoError(t, err)

	_, err = f.worker.ProcessOne(ctx)
	require.NoError(t, err)

	_, err = f.worker.ProcessOne(ctx)
	assert.ErrorIs(t, err, api.ErrRunLeased)
	assert.Equal(t, 0, f.queue.Len())

	// The run itself is untouched and can still be recovered.
	run, err := f.engine.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusPending, run.Status)
}

// flakyQueue fails the next failures Enqueue calls.
type flakyQueue struct {
	*taskqueue.InMemoryQueue
	failures atomic.Int32
}

var errQueueDown = errors.New("queue down")

func (q *flakyQueue) Enqueue(ctx context.Context, t taskqueue.Task) error {
	if q.failures.Add(-1) >= 0 {
		return errQueueDown
	}
	return q.InMemoryQueue.Enqueue(ctx, t)
}

func TestWorker_PartialDeliverySchedulesCreatedRuns(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	q := &flakyQueue{InMemoryQueue: taskqueue.NewInMemoryQueue()}
	w := NewWithConfig(eng, q, Config{Backoff: time.Millisecond})

	var calls int32
	require.NoError(t, eng.RegisterWorkflow(greetWorkflow(&calls)))
	require.NoError(t, eng.RegisterWorkflow(greetWorkflowWithID("greet-again", &calls)))

	_, err := w.Publish(ctx, signup())
	require.NoError(t, err)

	// Dispatch creates both runs, then cannot enqueue the first.
	q.failures.Store(1)
	processed, err := w.ProcessOne(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, errQueueDown)
	assert.Equal(t, 2, q.Len(), "both created runs are scheduled without redelivering the event")

	for i := 0; i < 2; i++ {
		processed, err := w.ProcessOne(ctx)
		require.True(t, processed)
		require.NoError(t, err)
	}

	runs, err := eng.ListRuns(ctx, api.RunListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, api.StatusSucceeded, run.Status)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWorker_UnknownRunIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, taskqueue.ExecuteRun("missing")))

	processed, err := f.worker.ProcessOne(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, api.ErrRunNotFound)
	assert.Equal(t, 0, f.queue.Len())
}

func TestWorker_UnknownTaskType(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, taskqueue.Task{Type: "reticulate-splines"}))

	processed, err := f.worker.ProcessOne(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, taskqueue.ErrUnknownTaskType)
}

func TestWorker_ProcessOneHonoursContext(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	processed, err := f.worker.ProcessOne(ctx)
	assert.False(t, processed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWorker_RecoverEnqueuesPendingRuns(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	var calls int32
	require.NoError(t, f.engine.RegisterWorkflow(greetWorkflow(&calls)))

	// Runs created without a queue, as if the process died after creating them.
	_, err := f.engine.CreateRuns(ctx, signup())
	require.NoError(t, err)
	_, err = f.engine.CreateRuns(ctx, signup())
	require.NoError(t, err)

	n, err := f.worker.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.queue.Len())

	for i := 0; i < 2; i++ {
		_, err := f.worker.ProcessOne(ctx)
		require.NoError(t, err)
	}
	pending, err := f.engine.PendingRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWorker_RunProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t, Config{})
	var calls int32
	require.NoError(t, f.engine.RegisterWorkflow(greetWorkflow(&calls)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx, 3) }()

	for i := 0; i < 5; i++ {
		_, err := f.worker.Publish(ctx, signup())
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		runs, err := f.engine.ListRuns(context.Background(), api.RunListOptions{Status: api.StatusSucceeded})
		return err == nil && len(runs) == 5
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Run froze the registry.
	err := f.engine.RegisterWorkflow(greetWorkflowWithID("late", &calls))
	assert.ErrorIs(t, err, api.ErrRegistryFrozen)
}

func greetWorkflowWithID(id string, calls *int32) api.WorkflowDefinition {
	def := greetWorkflow(calls)
	def.ID = id
	return def
}
