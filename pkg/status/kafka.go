package status

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// Event types published by KafkaSink.
const (
	EventBegin    = "stage.begin"
	EventAdvance  = "stage.advance"
	EventComplete = "stage.complete"
	EventFail     = "stage.fail"
	EventLog      = "log"
)

type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Stage     string         `json:"stage"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Done      int            `json:"done,omitempty"`
	Total     int            `json:"total,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, headers map[string]string, value any) error
}

// KafkaSink publishes progress events keyed by run id. Publish failures are
// logged and never interrupt the sync.
type KafkaSink struct {
	publisher Publisher
	runID     string
	logger    ectologger.Logger
	now       func() time.Time
}

func NewKafkaSink(publisher Publisher, runID string, logger ectologger.Logger) *KafkaSink {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &KafkaSink{
		publisher: publisher,
		runID:     runID,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *KafkaSink) RunID() string {
	return s.runID
}

func (s *KafkaSink) publish(ctx context.Context, evt Event) {
	evt.ID = uuid.NewString()
	evt.RunID = s.runID
	evt.Timestamp = s.now()

	headers := map[string]string{"run_id": s.runID, "type": evt.Type}
	if err := s.publisher.Publish(ctx, s.runID, headers, evt); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("type", evt.Type).Warn("Failed to publish progress event")
	}
}

func (s *KafkaSink) Begin(ctx context.Context, stage string, total int) {
	s.publish(ctx, Event{Type: EventBegin, Stage: stage, Total: total})
}

func (s *KafkaSink) Advance(ctx context.Context, stage string, done, total int, message string) {
	s.publish(ctx, Event{Type: EventAdvance, Stage: stage, Done: done, Total: total, Message: message})
}

func (s *KafkaSink) Complete(ctx context.Context, stage string, message string) {
	s.publish(ctx, Event{Type: EventComplete, Stage: stage, Message: message})
}

func (s *KafkaSink) Fail(ctx context.Context, stage string, err error) {
	s.publish(ctx, Event{Type: EventFail, Stage: stage, Level: "error", Message: err.Error()})
}

func (s *KafkaSink) LogInfo(ctx context.Context, message string, fields map[string]any, stage string) {
	s.publish(ctx, Event{Type: EventLog, Stage: stage, Level: "info", Message: message, Context: fields})
}

func (s *KafkaSink) LogWarning(ctx context.Context, message string, fields map[string]any, stage string) {
	s.publish(ctx, Event{Type: EventLog, Stage: stage, Level: "warning", Message: message, Context: fields})
}

func (s *KafkaSink) LogError(ctx context.Context, message string, fields map[string]any, stage string) {
	s.publish(ctx, Event{Type: EventLog, Stage: stage, Level: "error", Message: message, Context: fields})
}
