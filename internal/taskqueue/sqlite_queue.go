package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent task queue implementation backed by SQLite.
// Tasks are claimed in (not_before, id) order inside a transaction, so
// concurrent workers never receive the same task.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
	now          func() time.Time
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(ctx context.Context, db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
		now:          time.Now,
	}
	if err := q.initSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			run_id TEXT,
			event BLOB,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_not_before ON tasks(not_before, id)`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	t = prepare(t, q.now())

	var event []byte
	if t.Type == TaskDeliverEvent {
		var err error
		if event, err = encodeEvent(t.Event); err != nil {
			return err
		}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, type, run_id, event, enqueued_at, not_before, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Type),
		t.RunID,
		event,
		t.EnqueuedAt.UnixNano(),
		t.NotBefore.UnixNano(),
		t.Attempts,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim deletes and returns the next eligible task, or nil when none is due.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id         int64
		taskID     string
		typeStr    string
		runID      sql.NullString
		event      []byte
		enqueuedAt int64
		notBefore  int64
		attempts   int
	)

	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, type, run_id, event, enqueued_at, not_before, attempts
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, q.now().UnixNano())
	if err := row.Scan(&id, &taskID, &typeStr, &runID, &event, &enqueuedAt, &notBefore, &attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the row we just claimed.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task := &Task{
		ID:         taskID,
		Type:       TaskType(typeStr),
		RunID:      runID.String,
		EnqueuedAt: time.Unix(0, enqueuedAt),
		NotBefore:  time.Unix(0, notBefore),
		Attempts:   attempts,
	}
	if len(event) > 0 {
		ev, err := decodeEvent(event)
		if err != nil {
			return nil, err
		}
		task.Event = ev
	}
	return task, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
