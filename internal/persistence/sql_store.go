package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/ticketflow/pkg/api"
)

// SQLStore implements RunStore, StepStore and HistoryStore on database/sql.
//
// The caller opens the *sql.DB with the driver matching the dialect and
// is responsible for importing it, e.g.:
//
//	import _ "modernc.org/sqlite"
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	import _ "github.com/go-sql-driver/mysql"
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Ensure SQLStore implements the interfaces.
var _ Store = (*SQLStore)(nil)

// NewSQLStore initializes the required schema in the given database and
// returns a new SQLStore.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("%s store: init schema: %w", dialect.Name, err)
	}
	return s, nil
}

// NewSQLiteStore is shorthand for NewSQLStore(ctx, db, SQLite).
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return NewSQLStore(ctx, db, SQLite)
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) CreateRun(ctx context.Context, run *api.Run) error {
	rec, err := toRecord(run)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, s.dialect.insertIfAbsent("runs",
		"id, workflow_id, status, attempts, event, output, error, created_at, updated_at",
		"?, ?, ?, ?, ?, ?, ?, ?, ?"),
		rec.ID, rec.WorkflowID, rec.Status, rec.Attempts, rec.Event, rec.Output, rec.Error, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunExists
	}
	return nil
}

func (s *SQLStore) UpdateRun(ctx context.Context, run *api.Run) error {
	rec, err := toRecord(run)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE runs
		SET workflow_id = ?, status = ?, attempts = ?, event = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		rec.WorkflowID, rec.Status, rec.Attempts, rec.Event, rec.Output, rec.Error, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// MySQL reports zero affected rows for no-op updates.
		if _, getErr := s.GetRun(ctx, run.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

const runColumns = `id, workflow_id, status, attempts, event, output, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*api.Run, error) {
	var rec runRecord
	var errStr sql.NullString
	if err := row.Scan(&rec.ID, &rec.WorkflowID, &rec.Status, &rec.Attempts, &rec.Event, &rec.Output, &errStr, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Error = errStr.String
	return rec.toRun()
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *SQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLStore) TryAcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Drop an expired lease, or our own so it can be extended.
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
		DELETE FROM run_leases
		WHERE run_id = ? AND (expires_at <= ? OR owner = ?)`),
		runID, now.UnixNano(), owner,
	); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.insertIfAbsent("run_leases",
		"run_id, owner, expires_at", "?, ?, ?")),
		runID, owner, now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLStore) ReleaseLease(ctx context.Context, runID, owner string) error {
	_, err := s.exec(ctx, `DELETE FROM run_leases WHERE run_id = ? AND owner = ?`, runID, owner)
	return err
}

func (s *SQLStore) GetStepResult(ctx context.Context, runID, label string) (api.StepResult, bool, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT value, recorded_at FROM step_results
		WHERE run_id = ? AND label = ?`), runID, label)

	res := api.StepResult{RunID: runID, Label: label}
	var at int64
	if err := row.Scan(&res.Value, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.StepResult{}, false, nil
		}
		return api.StepResult{}, false, err
	}
	res.RecordedAt = time.Unix(0, at)
	return res, true, nil
}

func (s *SQLStore) RecordStepResult(ctx context.Context, res api.StepResult) (api.StepResult, error) {
	if res.RecordedAt.IsZero() {
		res.RecordedAt = s.now()
	}
	value := res.Value
	if value == nil {
		value = []byte{}
	}

	if _, err := s.exec(ctx, s.dialect.insertIfAbsent("step_results",
		"run_id, label, value, recorded_at", "?, ?, ?, ?"),
		res.RunID, res.Label, value, res.RecordedAt.UnixNano(),
	); err != nil {
		return api.StepResult{}, err
	}

	stored, ok, err := s.GetStepResult(ctx, res.RunID, res.Label)
	if err != nil {
		return api.StepResult{}, err
	}
	if !ok {
		return api.StepResult{}, fmt.Errorf("step %q of run %s vanished after insert", res.Label, res.RunID)
	}
	return stored, nil
}

func (s *SQLStore) ListStepResults(ctx context.Context, runID string) ([]api.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT label, value, recorded_at FROM step_results
		WHERE run_id = ?
		ORDER BY recorded_at, label`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.StepResult
	for rows.Next() {
		res := api.StepResult{RunID: runID}
		var at int64
		if err := rows.Scan(&res.Label, &res.Value, &at); err != nil {
			return nil, err
		}
		res.RecordedAt = time.Unix(0, at)
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendHistory(ctx context.Context, ev api.HistoryEvent) error {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO run_history (run_id, at, type, workflow_id, step, attempt, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, at.UnixNano(), string(ev.Type), ev.WorkflowID, ev.Step, ev.Attempt, ev.Detail,
	)
	return err
}

func (s *SQLStore) ListHistory(ctx context.Context, runID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT run_id, at, type, workflow_id, step, attempt, detail
		FROM run_history
		WHERE run_id = ?
		ORDER BY id ASC`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			ev     api.HistoryEvent
			atN    int64
			typ    string
			detail sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &atN, &typ, &ev.WorkflowID, &ev.Step, &ev.Attempt, &detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.HistoryType(typ)
		ev.Detail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
