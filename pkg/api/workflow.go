package api

import (
	"context"
	"time"

	"github.com/petrijr/ticketflow/pkg/backoff"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	// StatusPending covers a run that has been created and has not yet
	// reached a terminal state, including runs between retry attempts.
	StatusPending Status = "PENDING"
	// StatusSucceeded is terminal: every step completed.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed is terminal: a step raised a terminal error, or the
	// retry budget was exhausted.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// StepFunc is the body of a single step.
//
// The returned value is recorded for the run and replayed on later
// attempts, so it must be gob-encodable. Concrete struct types must be
// registered with gob.Register before they are recorded.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepDefinition describes a labelled step.
type StepDefinition struct {
	// Label identifies the step within its workflow. Labels must be stable
	// across releases: renaming a label invalidates memoized results of
	// runs that are in flight.
	Label string
	Fn    StepFunc
}

// WorkflowDefinition describes a workflow triggered by an event.
type WorkflowDefinition struct {
	ID string

	// Trigger is the event name that starts a run of this workflow.
	Trigger string

	// MaxRetries is the number of whole-run re-attempts permitted after the
	// first attempt fails with a retriable error. Zero disables retries.
	MaxRetries int

	// Backoff computes the delay before retry n (1-indexed). Nil retries
	// immediately.
	Backoff backoff.Strategy

	Steps []StepDefinition
}

// Run is one execution attempt-set of a workflow for a single event.
type Run struct {
	ID         string
	WorkflowID string
	Event      Event
	Status     Status

	// Attempts counts attempts that have been started. It only grows.
	Attempts int

	// Output is the value returned by the last step of a succeeded run.
	Output any

	// Err is the error that made the run terminal. For runs loaded from a
	// durable store only the message survives.
	Err error

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepResult is the recorded success of a step. Once stored it is
// authoritative for all later attempts of the same run.
type StepResult struct {
	RunID      string
	Label      string
	Value      []byte
	RecordedAt time.Time
}

// RunListOptions controls how runs are listed.
// Zero values mean "no filter" for that field.
type RunListOptions struct {
	WorkflowID string
	Status     Status
}
