package observability

import (
	"context"
	"fmt"
	"log/slog"

	"coordinator/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "etl-coordinator"

// NewTracerProvider builds the tracer provider and installs it, together with
// the W3C trace-context propagator, as the global default. Finished spans are
// written to logger at debug level; when cfg.Endpoint is set they are also
// batched to an OTLP/HTTP collector. Callers must Shutdown the provider.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithSpanProcessor(NewLogSpanProcessor(logger)),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// LogSpanProcessor logs every finished span.
type LogSpanProcessor struct {
	logger *slog.Logger
}

// NewLogSpanProcessor returns a processor writing to logger, or to the
// default logger when nil.
func NewLogSpanProcessor(logger *slog.Logger) *LogSpanProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanProcessor{logger: logger.With("component", "tracing")}
}

func (p *LogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	ctx := context.Background()
	level := slog.LevelDebug
	if s.Status().Code == codes.Error {
		level = slog.LevelInfo
	}
	if !p.logger.Enabled(ctx, level) {
		return
	}

	attrs := []any{
		"span", s.Name(),
		"traceId", s.SpanContext().TraceID().String(),
		"spanId", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	if s.Status().Code == codes.Error {
		attrs = append(attrs, "error", s.Status().Description)
	}
	p.logger.Log(ctx, level, "Span finished", attrs...)
}

func (p *LogSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *LogSpanProcessor) ForceFlush(context.Context) error { return nil }

var _ sdktrace.SpanProcessor = (*LogSpanProcessor)(nil)
