package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	t.Run("should be a no-op without a tracer", func(t *testing.T) {
		SetTracer(nil)
		ctx, span := StartSpan(context.Background(), "noop")
		assert.NotNil(t, span)
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTraceParent(ctx))
		span.End()
	})

	t.Run("should record spans with attributes and errors", func(t *testing.T) {
		recorder := tracetest.NewInMemoryExporter()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(recorder))
		SetTracer(provider.Tracer("test"))
		t.Cleanup(func() { SetTracer(nil) })

		ctx, span := StartSpan(context.Background(), "Engine.SyncEntity")
		SetAttributes(span, map[string]string{"entity": "article"})
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetTraceParent(ctx))
		EndWithError(span, errors.New("boom"))

		spans := recorder.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "Engine.SyncEntity", spans[0].Name)
		assert.Equal(t, "boom", spans[0].Status.Description)
	})
}

func TestSetup(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	shutdown, err := Setup(context.Background(), Config{}, logger)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Setup(context.Background(), Config{Enabled: true, Exporter: "zipkin"}, logger)
	assert.Error(t, err)

	shutdown, err = Setup(context.Background(), Config{Enabled: true, Exporter: "log", ServiceName: "afssync"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { SetTracer(nil) })
	_, span := StartSpan(context.Background(), "x")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
