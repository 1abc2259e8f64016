package ticketflow

import (
	"context"
	"errors"
	"sync"

	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a Worker
// to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := ticketflow.NewLocalRunner()
//	ticketflow.New("on-user-signup").On("user/signup").Step(...).MustRegister(runner.Engine)
//
//	// Synchronous (no queue/worker involved):
//	runs, err := ticketflow.Trigger(ctx, runner.Engine, ev)
//
//	// Asynchronous:
//	_ = runner.StartWorkers(ctx, 2)
//	_, _ = runner.Publish(ctx, ev)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLocalRunner constructs a LocalRunner with a default Worker config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(worker.Config{})
}

// NewLocalRunnerWithConfig is like NewLocalRunner with a custom Worker config.
func NewLocalRunnerWithConfig(cfg worker.Config) *LocalRunner {
	eng := NewInMemoryEngine()
	q := taskqueue.NewInMemoryQueue()

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.NewWithConfig(eng, q, cfg),
	}
}

// StartWorkers starts 'concurrency' worker goroutines that process tasks
// until Stop is called or ctx is cancelled. It freezes the registry.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("ticketflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running = true

	// Freeze before returning so registrations after StartWorkers fail
	// deterministically.
	r.Engine.Freeze()
	go func() {
		defer close(done)
		_ = r.Worker.Run(ctx, concurrency)
	}()
	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	cancel()
	<-done
}

// Publish enqueues ev for delivery. Workers started by StartWorkers create
// and execute the runs it triggers.
func (r *LocalRunner) Publish(ctx context.Context, ev Event) (Event, error) {
	return r.Worker.Publish(ctx, ev)
}
