// Package bus publishes domain events into the task queue and fans them
// out to the workflows subscribed to them.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/ticketflow/internal/taskqueue"
	"github.com/petrijr/ticketflow/pkg/api"
)

// Bus accepts events from producers (HTTP handlers, other services) and
// hands them to workers through a queue.
type Bus struct {
	engine api.Engine
	queue  taskqueue.Queue
	now    func() time.Time
}

// New returns a Bus delivering through queue to the workflows registered
// on engine.
func New(engine api.Engine, queue taskqueue.Queue) *Bus {
	return &Bus{engine: engine, queue: queue, now: time.Now}
}

// Publish validates ev and enqueues it for delivery. It returns the event
// as accepted, with ID and OccurredAt stamped when they were empty.
//
// An invalid event is rejected with an error wrapping api.ErrInvalidEvent
// and never reaches the queue. The first successful publish freezes the
// workflow registry.
func (b *Bus) Publish(ctx context.Context, ev api.Event) (api.Event, error) {
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	b.engine.Freeze()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = b.now()
	}

	if err := b.queue.Enqueue(ctx, taskqueue.DeliverEvent(ev)); err != nil {
		return ev, fmt.Errorf("publish %s %s: %w", ev.Name, ev.ID, err)
	}
	return ev, nil
}

// Dispatch delivers ev synchronously: one run is created per subscribed
// workflow and an execute-run task is enqueued for each. Publishing the
// same event twice yields independent runs.
func (b *Bus) Dispatch(ctx context.Context, ev api.Event) ([]*api.Run, error) {
	runs, err := b.engine.CreateRuns(ctx, ev)
	if err != nil {
		return runs, err
	}
	for _, run := range runs {
		if err := b.queue.Enqueue(ctx, taskqueue.ExecuteRun(run.ID)); err != nil {
			// The run is PENDING in the store; the caller decides how to
			// schedule it.
			return runs, fmt.Errorf("enqueue run %s: %w", run.ID, err)
		}
	}
	return runs, nil
}
