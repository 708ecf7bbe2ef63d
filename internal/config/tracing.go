package config

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SetupTracing installs the global tracer provider and W3C trace-context propagation when cfg.Enabled.
// Finished spans are written to logger at debug level. The returned func flushes and stops the provider.
func SetupTracing(cfg domain.TracingConfig, logger *slog.Logger) func(context.Context) error {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}

	name := cfg.ServiceName
	if name == "" {
		name = "harrier"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithBatcher(&spanLogger{logger: logger}),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled", "service", name)
	return tp.Shutdown
}

// spanLogger exports finished spans as log lines.
type spanLogger struct {
	logger *slog.Logger
}

func (e *spanLogger) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Debug("span finished",
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"parent_span_id", s.Parent().SpanID().String(),
			"status", s.Status().Code.String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
		)
	}
	return nil
}

func (e *spanLogger) Shutdown(ctx context.Context) error {
	return nil
}
