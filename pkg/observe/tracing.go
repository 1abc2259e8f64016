package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/ticketflow/pkg/api"
)

// tracerName is the instrumentation scope name for ticketflow tracing.
const tracerName = "github.com/petrijr/ticketflow"

// TracingObserver records one span per run attempt ("ticketflow.attempt")
// with a child span per executed step ("ticketflow.step"). Memoized steps
// are recorded as events on the attempt span instead of spans of their own.
//
// With no TracerProvider configured globally the noop tracer is used.
type TracingObserver struct {
	api.NoopObserver

	tracer trace.Tracer

	mu       sync.Mutex
	attempts map[string]attemptSpan // by run ID
	steps    map[string]trace.Span  // by run ID + "\x00" + label
}

type attemptSpan struct {
	ctx  context.Context
	span trace.Span
}

var _ api.Observer = (*TracingObserver)(nil)

// NewTracingObserver uses the global TracerProvider.
func NewTracingObserver() *TracingObserver {
	return NewTracingObserverWithTracer(otel.Tracer(tracerName))
}

// NewTracingObserverWithTracer uses tracer; useful in tests or when
// several providers are in use.
func NewTracingObserverWithTracer(tracer trace.Tracer) *TracingObserver {
	return &TracingObserver{
		tracer:   tracer,
		attempts: make(map[string]attemptSpan),
		steps:    make(map[string]trace.Span),
	}
}

func runAttributes(run *api.Run) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ticketflow.run.id", run.ID),
		attribute.String("ticketflow.workflow.id", run.WorkflowID),
		attribute.String("ticketflow.event.name", run.Event.Name),
		attribute.String("ticketflow.event.id", run.Event.ID),
		attribute.Int("ticketflow.attempt", run.Attempts),
	}
}

func stepKey(runID, label string) string { return runID + "\x00" + label }

func (o *TracingObserver) OnAttemptStart(ctx context.Context, run *api.Run) {
	ctx, span := o.tracer.Start(ctx, "ticketflow.attempt",
		trace.WithAttributes(runAttributes(run)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	o.mu.Lock()
	prev, ok := o.attempts[run.ID]
	o.attempts[run.ID] = attemptSpan{ctx: ctx, span: span}
	o.mu.Unlock()

	// An attempt interrupted by cancellation never reports an outcome.
	if ok {
		prev.span.SetStatus(codes.Error, "superseded by attempt "+strconv.Itoa(run.Attempts))
		prev.span.End()
	}
}

func (o *TracingObserver) endAttempt(runID string, err error) {
	o.mu.Lock()
	a, ok := o.attempts[runID]
	delete(o.attempts, runID)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, err.Error())
	} else {
		a.span.SetStatus(codes.Ok, "")
	}
	a.span.End()
}

func (o *TracingObserver) OnRetryScheduled(ctx context.Context, run *api.Run, err error, delay time.Duration) {
	o.mu.Lock()
	a, ok := o.attempts[run.ID]
	o.mu.Unlock()
	if ok {
		a.span.AddEvent("retry_scheduled", trace.WithAttributes(
			attribute.String("ticketflow.retry.delay", delay.String()),
		))
	}
	o.endAttempt(run.ID, err)
}

func (o *TracingObserver) OnRunSucceeded(ctx context.Context, run *api.Run) {
	o.endAttempt(run.ID, nil)
}

func (o *TracingObserver) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	o.endAttempt(run.ID, err)
}

func (o *TracingObserver) OnStepStart(ctx context.Context, run *api.Run, label string) {
	o.mu.Lock()
	if a, ok := o.attempts[run.ID]; ok {
		ctx = a.ctx
	}
	o.mu.Unlock()

	_, span := o.tracer.Start(ctx, "ticketflow.step",
		trace.WithAttributes(
			attribute.String("ticketflow.run.id", run.ID),
			attribute.String("ticketflow.workflow.id", run.WorkflowID),
			attribute.String("ticketflow.step", label),
			attribute.Int("ticketflow.attempt", run.Attempts),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	o.mu.Lock()
	o.steps[stepKey(run.ID, label)] = span
	o.mu.Unlock()
}

func (o *TracingObserver) OnStepMemoized(ctx context.Context, run *api.Run, label string) {
	o.mu.Lock()
	a, ok := o.attempts[run.ID]
	o.mu.Unlock()
	if ok {
		a.span.AddEvent("step_memoized", trace.WithAttributes(attribute.String("ticketflow.step", label)))
	}
}

func (o *TracingObserver) OnStepCompleted(ctx context.Context, run *api.Run, label string, err error, d time.Duration) {
	key := stepKey(run.ID, label)
	o.mu.Lock()
	span, ok := o.steps[key]
	delete(o.steps, key)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("ticketflow.error.kind", api.Classify(err).String()))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
