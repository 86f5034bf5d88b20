// Package status reports sync progress and log lines to interested sinks.
package status

import (
	"context"

	"github.com/Gobusters/ectologger"
)

// Sink receives stage progress and stage-scoped log lines.
type Sink interface {
	Begin(ctx context.Context, stage string, total int)
	Advance(ctx context.Context, stage string, done, total int, message string)
	Complete(ctx context.Context, stage string, message string)
	Fail(ctx context.Context, stage string, err error)
	LogInfo(ctx context.Context, message string, fields map[string]any, stage string)
	LogWarning(ctx context.Context, message string, fields map[string]any, stage string)
	LogError(ctx context.Context, message string, fields map[string]any, stage string)
}

// LogSink writes everything to a logger with the stage attached.
type LogSink struct {
	logger ectologger.Logger
}

func NewLogSink(logger ectologger.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) entry(ctx context.Context, stage string, fields map[string]any) ectologger.Logger {
	all := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		all[k] = v
	}
	all["stage"] = stage
	return s.logger.WithContext(ctx).WithFields(all)
}

func (s *LogSink) Begin(ctx context.Context, stage string, total int) {
	s.entry(ctx, stage, map[string]any{"total": total}).Info("stage started")
}

func (s *LogSink) Advance(ctx context.Context, stage string, done, total int, message string) {
	s.entry(ctx, stage, map[string]any{"done": done, "total": total}).Debug(message)
}

func (s *LogSink) Complete(ctx context.Context, stage string, message string) {
	s.entry(ctx, stage, nil).Info(message)
}

func (s *LogSink) Fail(ctx context.Context, stage string, err error) {
	s.entry(ctx, stage, nil).WithError(err).Error("stage failed")
}

func (s *LogSink) LogInfo(ctx context.Context, message string, fields map[string]any, stage string) {
	s.entry(ctx, stage, fields).Info(message)
}

func (s *LogSink) LogWarning(ctx context.Context, message string, fields map[string]any, stage string) {
	s.entry(ctx, stage, fields).Warn(message)
}

func (s *LogSink) LogError(ctx context.Context, message string, fields map[string]any, stage string) {
	s.entry(ctx, stage, fields).Error(message)
}

// MultiSink fans out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Begin(ctx context.Context, stage string, total int) {
	for _, s := range m {
		s.Begin(ctx, stage, total)
	}
}

func (m MultiSink) Advance(ctx context.Context, stage string, done, total int, message string) {
	for _, s := range m {
		s.Advance(ctx, stage, done, total, message)
	}
}

func (m MultiSink) Complete(ctx context.Context, stage string, message string) {
	for _, s := range m {
		s.Complete(ctx, stage, message)
	}
}

func (m MultiSink) Fail(ctx context.Context, stage string, err error) {
	for _, s := range m {
		s.Fail(ctx, stage, err)
	}
}

func (m MultiSink) LogInfo(ctx context.Context, message string, fields map[string]any, stage string) {
	for _, s := range m {
		s.LogInfo(ctx, message, fields, stage)
	}
}

func (m MultiSink) LogWarning(ctx context.Context, message string, fields map[string]any, stage string) {
	for _, s := range m {
		s.LogWarning(ctx, message, fields, stage)
	}
}

func (m MultiSink) LogError(ctx context.Context, message string, fields map[string]any, stage string) {
	for _, s := range m {
		s.LogError(ctx, message, fields, stage)
	}
}
