package ticketflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/pkg/api"
)

func doubleFlow() *FlowBuilder {
	return New("localrunner-double").
		On("demo/number").
		Step("read", func(ctx context.Context, sc *StepContext) (any, error) {
			p, err := api.PayloadAs[UnknownEvent](sc)
			if err != nil {
				return nil, err
			}
			n, _ := p.Data["n"].(int)
			return n, nil
		}).
		Step("double", func(ctx context.Context, sc *StepContext) (any, error) {
			return sc.Previous.(int) * 2, nil
		})
}

// TestLocalRunner_SyncAndAsync runs the same workflow synchronously through
// Trigger and asynchronously through Publish plus the worker loop.
func TestLocalRunner_SyncAndAsync(t *testing.T) {
	runner := NewLocalRunner()
	doubleFlow().MustRegister(runner.Engine)

	ctx := context.Background()
	number := func(n int) Event {
		return NewEvent(UnknownEvent{Name: "demo/number", Data: map[string]any{"n": n}})
	}

	// --- Synchronous ---

	runs, err := Trigger(ctx, runner.Engine, number(2))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusSucceeded, runs[0].Status)
	assert.Equal(t, 4, runs[0].Output)

	// --- Asynchronous ---

	require.NoError(t, runner.StartWorkers(ctx, 2))
	defer runner.Stop()

	ev, err := runner.Publish(ctx, number(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runs, err := ListRuns(ctx, runner.Engine, RunListOptions{Status: StatusSucceeded})
		if err != nil {
			return false
		}
		for _, r := range runs {
			if r.Event.ID == ev.ID {
				return r.Output == 6
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// TestLocalRunner_StartWorkersTwice ensures that StartWorkers cannot be
// called twice without Stop in between.
func TestLocalRunner_StartWorkersTwice(t *testing.T) {
	runner := NewLocalRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer runner.Stop()

	require.NoError(t, runner.StartWorkers(ctx, 1))
	assert.Error(t, runner.StartWorkers(ctx, 1))
}

func TestLocalRunner_StopIsIdempotentAndRestartable(t *testing.T) {
	runner := NewLocalRunner()
	runner.Stop()

	ctx := context.Background()
	require.NoError(t, runner.StartWorkers(ctx, 1))
	runner.Stop()
	runner.Stop()

	require.NoError(t, runner.StartWorkers(ctx, 1))
	runner.Stop()
}

func TestLocalRunner_StartWorkersFreezesRegistry(t *testing.T) {
	runner := NewLocalRunner()
	require.NoError(t, runner.StartWorkers(context.Background(), 1))
	defer runner.Stop()

	err := doubleFlow().Register(runner.Engine)
	assert.ErrorIs(t, err, api.ErrRegistryFrozen)
}
