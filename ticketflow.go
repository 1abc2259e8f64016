package ticketflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/ticketflow/internal/engine"
	"github.com/petrijr/ticketflow/internal/persistence"
	"github.com/petrijr/ticketflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Event                = api.Event
	Payload              = api.Payload
	Run                  = api.Run
	RunListOptions       = api.RunListOptions
	Status               = api.Status
	StepContext          = api.StepContext
	StepFunc             = api.StepFunc
	StepResult           = api.StepResult
	HistoryEvent         = api.HistoryEvent
	WorkflowDefinition   = api.WorkflowDefinition
	Observer             = api.Observer
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	NoopObserver         = api.NoopObserver
	UnknownEvent         = api.UnknownEvent
)

// Re-export common helpers.

var (
	NewEvent             = api.NewEvent
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Terminal             = api.Terminal
	Terminalf            = api.Terminalf
	Retriable            = api.Retriable
	IsTerminal           = api.IsTerminal
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusSucceeded = api.StatusSucceeded
	StatusFailed    = api.StatusFailed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.FromStore(persistence.NewInMemoryStore()),
		Observer:    obs,
	})
}

// NewSQLiteEngine returns an Engine that persists runs, step results and
// history in a SQLite database. Workflow definitions are kept in memory.
func NewSQLiteEngine(ctx context.Context, db *sql.DB) (Engine, error) {
	return engine.NewSQLEngine(ctx, db, persistence.SQLite)
}

// NewPostgresEngine returns an Engine that persists runs in PostgreSQL.
func NewPostgresEngine(ctx context.Context, db *sql.DB) (Engine, error) {
	return engine.NewSQLEngine(ctx, db, persistence.Postgres)
}

// NewMySQLEngine returns an Engine that persists runs in MySQL.
func NewMySQLEngine(ctx context.Context, db *sql.DB) (Engine, error) {
	return engine.NewSQLEngine(ctx, db, persistence.MySQL)
}

// NewRedisEngine returns an Engine that persists runs in Redis under prefix.
func NewRedisEngine(client *redis.Client, prefix string) Engine {
	return engine.NewRedisEngine(client, prefix)
}

// Convenience helpers that just forward to the underlying Engine.

// Trigger creates the runs ev starts and executes each synchronously.
func Trigger(ctx context.Context, eng Engine, ev Event) ([]*Run, error) {
	return eng.Trigger(ctx, ev)
}

// GetRun fetches a run by ID.
func GetRun(ctx context.Context, eng Engine, id string) (*Run, error) {
	return eng.GetRun(ctx, id)
}

// ListRuns lists runs according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*Run, error) {
	return eng.ListRuns(ctx, opts)
}

// ResumeRun executes a PENDING run again. Completed steps are replayed from
// their recorded results.
//
// It is typically called on process startup for every id PendingRuns
// returns, unless a Worker's Recover does that through the queue.
func ResumeRun(ctx context.Context, eng Engine, id string) (*Run, error) {
	return eng.ExecuteRun(ctx, id)
}
