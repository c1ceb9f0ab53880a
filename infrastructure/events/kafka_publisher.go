package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/config"
	"github.com/johncarlo20/growlink-sub002/domain/service"
)

// KafkaPublisher publishes subscription lifecycle events to a Kafka topic.
// It implements service.LifecycleEmitter. Messages are keyed by organization
// id so one organization's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher from configuration.
func NewKafkaPublisher(cfg *config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.Named("lifecycle_publisher"),
	}
}

// Emit publishes one lifecycle event.
func (p *KafkaPublisher) Emit(ctx context.Context, event service.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode lifecycle event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrganizationID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.EventType, err)
	}

	p.logger.Debug("lifecycle event published",
		zap.String("event_type", event.EventType),
		zap.String("organization_id", event.OrganizationID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
