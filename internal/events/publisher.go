package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fireshakti/noc-engine/internal/config"
)

// Publisher emits workflow events to Kafka. Each event type maps to its own
// topic; unknown event types land on the status-changed topic.
type Publisher struct {
	config config.KafkaConfig
	logger *slog.Logger
	writer *kafka.Writer
}

// NewPublisher creates a new Kafka event publisher
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Publisher{
		config: cfg,
		logger: logger,
		writer: writer,
	}
}

// Publish serializes the payload and writes it to the topic for eventType,
// keyed so events for one application stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	value, err := json.Marshal(envelope{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	message := kafka.Message{
		Topic: p.topicFor(eventType),
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("Failed to publish event",
			"event_type", eventType, "key", key, "error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published", "event_type", eventType, "topic", message.Topic, "key", key)
	return nil
}

// Close flushes and closes the underlying writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) topicFor(eventType string) string {
	switch eventType {
	case "application_submitted":
		return p.config.Topics.ApplicationSubmitted
	case "certificate_issued":
		return p.config.Topics.CertificateIssued
	case "notification_sent":
		return p.config.Topics.NotificationSent
	default:
		return p.config.Topics.ApplicationStatusChanged
	}
}

type envelope struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}
