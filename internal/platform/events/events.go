// Package events carries journal changes to external consumers through a
// transactional outbox. Mutations enqueue a row in the same transaction as
// the journal write; a relay worker drains the table and publishes to Kafka,
// so a consumer never sees an event for a write that rolled back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Record actions carried in outbox events.
const (
	ActionRecordCreated = "record_created"
	ActionEntryAppended = "entry_appended"
	ActionEntryDeleted  = "entry_deleted"
	ActionEntryEdited   = "entry_edited"
	ActionEntrySigned   = "entry_signed"
)

// RecordEvent is one outbox row describing a journal change. The payload
// carries identifiers only; consumers fetch the record for content.
type RecordEvent struct {
	ID           int64           `json:"id"`
	RecordID     uuid.UUID       `json:"record_id"`
	AdmissionID  uuid.UUID       `json:"admission_id"`
	Category     string          `json:"category"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
}

// Publisher pushes serialized events to a broker.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers (comma
// separated) and topic.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(brokers, ",")...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes a single message keyed so that events for one record land
// on the same partition, preserving their order.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Topic returns the configured topic.
func (p *KafkaPublisher) Topic() string {
	return p.writer.Topic
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
