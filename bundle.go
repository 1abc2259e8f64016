package ticketflow

import (
	"context"
	"database/sql"

	"github.com/petrijr/ticketflow/internal/taskqueue"
	workerpkg "github.com/petrijr/ticketflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
//
// Only a SQLite-backed bundle is provided; other backends are assembled by
// hand, as cmd/ticketflow does.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Runs, step results, history and queued tasks
// are all persisted in db.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:ticketflow.db?_pragma=journal_mode(WAL)")
//	db.SetMaxOpenConns(1)
//	bundle, err := ticketflow.NewSQLiteBundle(ctx, db, worker.Config{MaxAttempts: 3})
//	// register workflows on bundle.Engine
//	// publish via bundle.Worker.Publish, then bundle.Worker.Run
func NewSQLiteBundle(ctx context.Context, db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(ctx, db)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(ctx, db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, cfg),
		queue:  q,
	}, nil
}

// Pending returns the number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
