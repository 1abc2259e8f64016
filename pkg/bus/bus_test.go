package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/internal/engine"
	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/api"
)

func newTestBus(t *testing.T) (*Bus, api.Engine, *taskqueue.InMemoryQueue) {
	t.Helper()
	eng := engine.NewInMemoryEngine()
	q := taskqueue.NewInMemoryQueue()
	return New(eng, q), eng, q
}

func def(id, trigger string) api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID:      id,
		Trigger: trigger,
		Steps: []api.StepDefinition{{Label: "noop", Fn: func(ctx context.Context, sc *api.StepContext) (any, error) {
			return nil, nil
		}}},
	}
}

func TestPublish_EnqueuesStampedEvent(t *testing.T) {
	b, eng, q := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, eng.RegisterWorkflow(def("wf", api.EventUserSignup)))

	ev, err := b.Publish(ctx, api.NewEvent(api.UserSignup{Email: "ada@example.com"}))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.Equal(t, 1, q.Len())

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskDeliverEvent, task.Type)
	assert.Equal(t, ev.ID, task.Event.ID)

	// Publishing froze the registry.
	assert.ErrorIs(t, eng.RegisterWorkflow(def("late", api.EventUserSignup)), api.ErrRegistryFrozen)
}

func TestPublish_RejectsInvalidEvent(t *testing.T) {
	b, eng, q := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, api.NewEvent(api.UserSignup{Email: "not-an-email"}))
	assert.ErrorIs(t, err, api.ErrInvalidEvent)

	_, err = b.Publish(ctx, api.Event{Name: api.EventTicketCreated})
	assert.ErrorIs(t, err, api.ErrInvalidEvent)

	assert.Equal(t, 0, q.Len())
	// A rejected event does not freeze the registry.
	assert.NoError(t, eng.RegisterWorkflow(def("wf", api.EventUserSignup)))
}

func TestPublish_UnknownEventIsAccepted(t *testing.T) {
	b, _, q := newTestBus(t)

	_, err := b.Publish(context.Background(), api.NewEvent(api.UnknownEvent{
		Name: "billing/refund",
		Data: map[string]any{"amount": 10.0},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestPublish_UntypedKnownEventIsRejected(t *testing.T) {
	b, _, q := newTestBus(t)

	_, err := b.Publish(context.Background(), api.NewEvent(api.UnknownEvent{
		Name: api.EventUserSignup,
		Data: map[string]any{"email": "ada@example.com"},
	}))
	assert.ErrorIs(t, err, api.ErrInvalidEvent)
	assert.Equal(t, 0, q.Len())
}

func TestDispatch_CreatesRunsAndEnqueuesExecution(t *testing.T) {
	b, eng, q := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, eng.RegisterWorkflow(def("a", api.EventTicketCreated)))
	require.NoError(t, eng.RegisterWorkflow(def("b", api.EventTicketCreated)))

	ev := api.NewEvent(api.TicketCreated{TicketID: "t1", Title: "t", Description: "d", CreatedBy: "u1"})
	runs, err := b.Dispatch(ctx, ev)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, q.Len())

	for _, run := range runs {
		assert.Equal(t, api.StatusPending, run.Status)
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.TaskExecuteRun, task.Type)
		assert.Equal(t, run.ID, task.RunID)
	}

	// Duplicate delivery creates independent runs.
	again, err := b.Dispatch(ctx, ev)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.NotEqual(t, runs[0].ID, again[0].ID)
}
