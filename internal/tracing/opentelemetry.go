package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/23skdu/qkernels"

// TraceSpan wraps an OpenTelemetry span; a nil *TraceSpan is safe to use.
type TraceSpan struct {
	span oteltrace.Span
}

// SpanConfig configures the global tracer provider.
type SpanConfig struct {
	ServiceName    string
	ServiceVersion string
	SampleRate     float64
	// OTLPEndpoint selects the OTLP gRPC exporter when set (host:port).
	OTLPEndpoint string
	// Output receives pretty-printed spans when no OTLP endpoint is set.
	// Defaults to os.Stderr.
	Output io.Writer
	// Exporter overrides both of the above; spans are exported synchronously.
	Exporter trace.SpanExporter
}

// Init installs a global tracer provider. The returned function flushes and
// shuts it down.
func Init(ctx context.Context, config SpanConfig) (func(context.Context) error, error) {
	if config.SampleRate < 0 || config.SampleRate > 1 {
		return nil, fmt.Errorf("sample rate must be between 0 and 1")
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(config.SampleRate))),
	}

	switch {
	case config.Exporter != nil:
		opts = append(opts, trace.WithSyncer(config.Exporter))
	case config.OTLPEndpoint != "":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exporter))
	default:
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Range starts a span named name as a child of any span in ctx. It marks a
// profiling range; callers end it with End.
func Range(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *TraceSpan) {
	newCtx, span := otel.Tracer(instrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
	return newCtx, &TraceSpan{span: span}
}

// Mark records a point-in-time event on the span carried by ctx.
func Mark(ctx context.Context, name string) {
	oteltrace.SpanFromContext(ctx).AddEvent(name)
}

func (s *TraceSpan) End() {
	if s != nil && s.span != nil {
		s.span.End()
	}
}

func (s *TraceSpan) SetAttributes(attrs ...attribute.KeyValue) {
	if s != nil && s.span != nil {
		s.span.SetAttributes(attrs...)
	}
}

func (s *TraceSpan) SetError(err error) {
	if s != nil && s.span != nil && err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *TraceSpan) GetTraceID() string {
	if s == nil || s.span == nil {
		return ""
	}
	return s.span.SpanContext().TraceID().String()
}

// GetContextTraceID returns the trace ID of the span in ctx, or "".
func GetContextTraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
