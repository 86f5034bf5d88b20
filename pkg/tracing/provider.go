package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing/exporters"
)

type Config struct {
	Enabled     bool
	ServiceName string
	// Exporter is "otlp" or "log".
	Exporter string
	OTLP     exporters.OTLPConfig
}

// Setup installs a tracer provider and returns its shutdown function. A
// disabled config leaves tracing as a no-op.
func Setup(ctx context.Context, cfg Config, logger ectologger.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "otlp":
		otlp, err := exporters.NewOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = otlp
	case "log":
		exporter = exporters.NewLogExporter(logger)
	default:
		return nil, fmt.Errorf("unsupported trace exporter '%s'", cfg.Exporter)
	}

	res := resource.NewWithAttributes("", attribute.String("service.name", cfg.ServiceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	SetTracer(provider.Tracer(cfg.ServiceName))

	logger.WithFields(map[string]any{
		"exporter": cfg.Exporter,
		"service":  cfg.ServiceName,
	}).Info("Tracing enabled")

	return provider.Shutdown, nil
}
