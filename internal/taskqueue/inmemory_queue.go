package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a Queue kept in process memory. Tasks become eligible
// at their NotBefore time and are handed out in (NotBefore, enqueue order).
// It is safe for concurrent use.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []queued
	seq    uint64
	notify chan struct{}
	now    func() time.Time
}

type queued struct {
	seq  uint64
	task Task
}

// NewInMemoryQueue creates a new, empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.seq++
	q.tasks = append(q.tasks, queued{seq: q.seq, task: prepare(t, q.now())})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		t, wait := q.take()
		if t != nil {
			return t, nil
		}

		var (
			tm    *time.Timer
			timer <-chan time.Time
		)
		if wait > 0 {
			tm = time.NewTimer(wait)
			timer = tm.C
		}

		select {
		case <-ctx.Done():
			if tm != nil {
				tm.Stop()
			}
			return nil, ctx.Err()
		case <-q.notify:
		case <-timer:
		}
		if tm != nil {
			tm.Stop()
		}
	}
}

// take pops the next eligible task. When none is eligible it reports how
// long until the earliest one is, or 0 when the queue is empty.
func (q *InMemoryQueue) take() (*Task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	best := -1
	for i, c := range q.tasks {
		if best == -1 || c.task.NotBefore.Before(q.tasks[best].task.NotBefore) ||
			(c.task.NotBefore.Equal(q.tasks[best].task.NotBefore) && c.seq < q.tasks[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil, 0
	}

	next := q.tasks[best]
	if next.task.NotBefore.After(now) {
		return nil, next.task.NotBefore.Sub(now)
	}

	q.tasks = append(q.tasks[:best], q.tasks[best+1:]...)
	if len(q.tasks) > 0 {
		// Wake another consumer for the remainder.
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	t := next.task
	return &t, 0
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
