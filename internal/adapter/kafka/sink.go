// Package kafka publishes pipeline events to a Kafka topic for the external
// observability collector.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geounify/internal/events"
)

// Sink produces pipeline events to a Kafka topic.
// It implements events.Sink.
type Sink struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewSink creates a Kafka producer for the configured events topic.
func NewSink(brokers []string, topic string, logger *slog.Logger) *Sink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &Sink{writer: w, logger: logger}
}

// Publish serializes one pipeline event and writes it to the topic. The
// event key is the source name so one source's events stay in order.
func (s *Sink) Publish(ctx context.Context, ev events.Event) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

// serializeToMessage marshals an Event into a Kafka message.
func serializeToMessage(ev events.Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize pipeline event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Source),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "emitted_at", Value: []byte(ev.Time.Format(time.RFC3339))},
		},
	}, nil
}
