// Package kafka publishes dreaming-pipeline lifecycle events to Kafka, for
// deployments with MCP_KAFKA_BROKERS configured (spec's supplemented
// optional Kafka publish-on-archive feature; see SPEC_FULL.md §4). Adapted
// from the teacher's orchestrator command-bus publisher — the envelope
// format here is specific to archive events, not WARPP workflow commands.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer this package depends on, so tests
// can substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ArchiveEvent is published whenever the dreaming pipeline completes a
// C→D archive run for a conversation.
type ArchiveEvent struct {
	Conversation string `json:"conversation"`
	Version      int    `json:"version"`
	IsLatest     bool   `json:"is_latest"`
	ArchivedAt   string `json:"archived_at"`
}

// Publisher publishes ArchiveEvents to a configured topic.
type Publisher struct {
	writer Writer
	topic  string
}

// NewPublisher wraps a Writer bound to topic.
func NewPublisher(writer Writer, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

// PublishArchiveEvent sends an ArchiveEvent, keyed by conversation so all
// events for the same conversation land on the same partition.
func (p *Publisher) PublishArchiveEvent(ctx context.Context, ev ArchiveEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal archive event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.Conversation),
		Value: payload,
	})
}
