// Package ticketflow provides a durable, event-triggered step-function engine
// for the ticket-intake backend.
//
// Domain events such as "ticket/created" or "user/signup" start one run of
// every workflow subscribed to them. A workflow is an ordered list of
// labelled steps. Each step that succeeds is recorded under its run, so when
// a later step fails and the run is re-attempted, completed steps are
// replayed from their recorded results instead of being invoked again.
//
// # Core Concepts
//
//  1. Engine
//  2. Worker
//  3. FlowBuilder
//  4. StepFunc
//  5. LocalRunner
//
// # Engine
//
// The Engine holds workflow definitions, persists runs, step results and
// history, and provides APIs to:
//   - create the runs an event triggers
//   - execute a run to SUCCEEDED or FAILED
//   - read runs, step results and history
//   - list PENDING runs for recovery after a crash
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres and MySQL
//   - Redis
//
// The registry freezes when the first event is published or the first
// worker starts. Registering later fails with ErrRegistryFrozen.
//
// # Worker
//
// A Worker pulls tasks from a queue. Publishing an event enqueues a
// delivery task; delivering it creates runs and enqueues one execution
// task per run. Workers can be scaled horizontally; a lease on each run
// keeps two workers from executing it at once.
//
// # FlowBuilder
//
//	ticketflow.New("on-user-signup").
//	    On("user/signup").
//	    Retry(ticketflow.Retry(2).WithExponentialBackoff(time.Second, time.Minute)).
//	    Step("get-user-email", getUserEmail).
//	    Step("send-welcome-email", sendWelcomeEmail).
//	    MustRegister(engine)
//
// # StepFunc
//
//	type StepFunc func(ctx context.Context, sc *StepContext) (any, error)
//
// A step sees the triggering event and the results of the steps before it.
// Returned values must be gob-encodable. Errors are retriable unless wrapped
// with Terminal, which fails the run without spending retry budget.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine, queue, and worker into a single,
// process-local helper useful for development and unit testing. It is not
// crash-durable; use NewSQLiteBundle or cmd/ticketflow for that.
package ticketflow
