package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/ticketflow/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskDeliverEvent fans an event out to its subscribed workflows.
	TaskDeliverEvent TaskType = "deliver-event"
	// TaskExecuteRun drives a single run through the retry controller.
	TaskExecuteRun TaskType = "execute-run"
)

// ErrUnknownTaskType is returned by workers for tasks they cannot handle.
var ErrUnknownTaskType = errors.New("unknown task type")

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	// Event is set for deliver-event tasks.
	Event api.Event

	// RunID is set for execute-run tasks.
	RunID string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts how many times the task has been handed back to the
	// queue after a worker could not process it.
	Attempts int
}

// DeliverEvent builds a deliver-event task.
func DeliverEvent(ev api.Event) Task {
	return Task{Type: TaskDeliverEvent, Event: ev}
}

// ExecuteRun builds an execute-run task.
func ExecuteRun(runID string) Task {
	return Task{Type: TaskExecuteRun, RunID: runID}
}

// Queue is a simple async task queue interface.
//
// Delivery is at-least-once from the producer's point of view: a task is
// removed when dequeued, and workers recover lost execute-run tasks from
// the run store on startup.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// prepare fills the bookkeeping fields of a task about to be enqueued.
func prepare(t Task, now time.Time) Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	return t
}
