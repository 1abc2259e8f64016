package observe

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SlogExporter writes ended spans to a slog.Logger at debug level. It is
// meant for development, where running a collector is overkill.
type SlogExporter struct {
	logger *slog.Logger
}

var _ sdktrace.SpanExporter = (*SlogExporter)(nil)

func NewSlogExporter(logger *slog.Logger) *SlogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogExporter{logger: logger}
}

func (e *SlogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.String("span_id", s.SpanContext().SpanID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
			slog.String("status", s.Status().Code.String()),
		}
		if s.Parent().IsValid() {
			attrs = append(attrs, slog.String("parent_id", s.Parent().SpanID().String()))
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span_ended", attrs...)
	}
	return nil
}

func (e *SlogExporter) Shutdown(ctx context.Context) error { return nil }

// NewTracerProvider returns an SDK provider exporting to logger.
// Callers should Shutdown it to flush pending spans.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewSlogExporter(logger)),
	)
}
