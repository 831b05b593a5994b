package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Producer wraps a kafka-go writer. Writes are synchronous so callers can
// mark outbox rows published only after the broker has acknowledged.
type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	writer := &kafkago.Writer{
		Addr:  kafkago.TCP(brokers...),
		Topic: topic,
		// Partition by message key: events for one payment share a key, so
		// they land on one partition and are consumed in order.
		Balancer:     &kafkago.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  3,
		Logger: kafkago.LoggerFunc(func(msg string, args ...any) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers map[string]string) error {
	msg := kafkago.Message{
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
