// Package broker publishes domain events to Kafka.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes keyed messages to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer builds an async producer. Delivery failures are reported to
// the logger because Async writes never surface them to the caller.
func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka delivery failed", slog.String("topic", topic), slog.Int("messages", len(messages)), slog.Any("error", err))
			}
		},
	}
	return &Producer{writer: w, logger: logger}
}

// Publish enqueues one message.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("platform/broker: write: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}
