package logging

import (
	"context"

	"github.com/rs/zerolog"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// WithTrace returns logger annotated with the trace and span IDs of the span
// carried by ctx. Without a valid span the logger is returned unchanged.
func WithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}

// WithComponent tags every entry with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
