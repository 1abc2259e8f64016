// Package api contains the core types shared by the engine, the workers and
// the workflows: events and their payloads, workflow and step definitions,
// runs, history, error classification and observers.
//
// Most users start from the ticketflow package, which re-exports selected
// types and wraps the engine constructors. The api package is what workflow
// code and custom integrations depend on directly.
//
// # Errors
//
// A failing step is retriable unless its error is wrapped with Terminal.
// Retriable failures consume the workflow's retry budget; terminal failures
// mark the run FAILED immediately.
//
// # Observability
//
// Observer receives run and step lifecycle callbacks. LoggingObserver and
// BasicMetrics ship here; Prometheus and OpenTelemetry observers live in
// pkg/observe. Combine them with NewCompositeObserver.
package api
