// Package worker drives published events to completion in the background.
//
// A Worker consumes two kinds of tasks from a taskqueue.Queue:
//
//   - deliver-event: the event is matched against the workflow registry,
//     one run is created per subscribed workflow, and an execute-run task
//     is enqueued for each.
//   - execute-run: the run is leased and driven through the retry
//     controller until it is SUCCEEDED or FAILED.
//
// Tasks that fail for infrastructure reasons (an unreachable store, a
// run leased by another worker) are handed back to the queue with a delay.
// Step failures are not: they are retried inside the run according to the
// workflow's own budget.
//
// Runs left PENDING by a crash are re-enqueued by Recover. Several workers,
// in one process or many, can share a durable queue and store.
package worker
