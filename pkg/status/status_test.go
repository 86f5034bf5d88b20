package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/kafka"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeWriter struct {
	messages []segkafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...segkafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type recordingSink struct {
	LogSink
	calls []string
}

func (r *recordingSink) Begin(_ context.Context, stage string, _ int) {
	r.calls = append(r.calls, "begin:"+stage)
}

func (r *recordingSink) LogWarning(_ context.Context, message string, _ map[string]any, _ string) {
	r.calls = append(r.calls, "warn:"+message)
}

func TestKafkaSink(t *testing.T) {
	ctx := context.Background()

	t.Run("should publish events keyed by run id", func(t *testing.T) {
		writer := &fakeWriter{}
		sink := NewKafkaSink(kafka.NewProducerWithWriter(writer, "progress", testLogger), "run-1", testLogger)

		sink.Begin(ctx, "article", 10)
		sink.Advance(ctx, "article", 5, 10, "halfway")
		sink.LogWarning(ctx, "ean conflict", map[string]any{"ean": "4000001"}, "article")
		sink.Fail(ctx, "article", errors.New("boom"))

		require.Len(t, writer.messages, 4)
		assert.Equal(t, "run-1", string(writer.messages[0].Key))

		var evt Event
		require.NoError(t, json.Unmarshal(writer.messages[2].Value, &evt))
		assert.Equal(t, EventLog, evt.Type)
		assert.Equal(t, "warning", evt.Level)
		assert.Equal(t, "4000001", evt.Context["ean"])
		assert.NotEmpty(t, evt.ID)

		require.NoError(t, json.Unmarshal(writer.messages[3].Value, &evt))
		assert.Equal(t, "boom", evt.Message)
	})

	t.Run("should swallow publish failures", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("broker down")}
		sink := NewKafkaSink(kafka.NewProducerWithWriter(writer, "progress", testLogger), "", testLogger)
		assert.NotEmpty(t, sink.RunID())
		assert.NotPanics(t, func() { sink.Complete(ctx, "article", "done") })
	})
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{LogSink: *NewLogSink(testLogger)}
	b := &recordingSink{LogSink: *NewLogSink(testLogger)}
	sink := MultiSink{a, b}

	sink.Begin(context.Background(), "category", 3)
	sink.LogWarning(context.Background(), "careful", nil, "category")
	sink.Complete(context.Background(), "category", "ok")

	assert.Equal(t, []string{"begin:category", "warn:careful"}, a.calls)
	assert.Equal(t, a.calls, b.calls)
}
