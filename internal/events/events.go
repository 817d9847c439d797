// Package events defines the structured pipeline events the core emits:
// file skipped, group missing, batch empty, write succeeded or failed. An
// external observability collaborator renders them; the core only publishes.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	FileProcessed Kind = "file_processed"
	FileCorrupted Kind = "file_corrupted"
	FileSkipped   Kind = "file_skipped"
	GroupMissing  Kind = "group_missing"
	BatchEmpty    Kind = "batch_empty"
	WriteOK       Kind = "write_ok"
	WriteFailed   Kind = "write_failed"
)

// Event is one structured pipeline occurrence, carrying enough context
// (source, batch key, path, stage) to reproduce the condition.
type Event struct {
	Kind   Kind      `json:"kind"`
	Source string    `json:"source,omitempty"`
	Batch  string    `json:"batch,omitempty"`
	Path   string    `json:"path,omitempty"`
	Stage  string    `json:"stage,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Sink receives pipeline events. Publish must be safe for concurrent use;
// workers emit from multiple goroutines.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogSink renders events through slog. It is the default sink when no
// external collector is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a Sink backed by the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	switch ev.Kind {
	case FileCorrupted, FileSkipped, GroupMissing, BatchEmpty:
		level = slog.LevelWarn
	case WriteFailed:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, string(ev.Kind),
		"source", ev.Source, "batch", ev.Batch, "path", ev.Path,
		"stage", ev.Stage, "detail", ev.Detail)
	return nil
}

func (s *LogSink) Close() error { return nil }

// Multi fans an event out to several sinks, returning the first error.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
