package api

import "time"

// HistoryType identifies a run history record.
type HistoryType string

const (
	HistoryRunCreated   HistoryType = "run.created"
	HistoryRunAttempt   HistoryType = "run.attempt"
	HistoryRunSucceeded HistoryType = "run.succeeded"
	HistoryRunFailed    HistoryType = "run.failed"

	HistoryStepStarted   HistoryType = "step.started"
	HistoryStepMemoized  HistoryType = "step.memoized"
	HistoryStepCompleted HistoryType = "step.completed"
	HistoryStepFailed    HistoryType = "step.failed"
)

// HistoryEvent is a minimal append-only history record for audit/debugging.
// It is intentionally small and stable; richer history can be layered later.
type HistoryEvent struct {
	RunID string
	At    time.Time
	Type  HistoryType

	// Optional context.
	WorkflowID string
	Step       string
	Attempt    int

	// Small, human-oriented details (e.g. error kind and message).
	// Keep this low-volume: do NOT dump step values here.
	Detail string
}
