package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/novapay/payments-service/internal/domain"
)

type eventRepo interface {
	GetUnpublished(ctx context.Context, limit int) ([]domain.PaymentEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type producer interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
}

// Relay polls the payment_events outbox and delivers unpublished events to
// Kafka. The message key is the payment id, so per-payment order is kept by
// partitioning; a delivery failure stops the batch and the next tick retries
// from the oldest unpublished row.
type Relay struct {
	events    eventRepo
	producer  producer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewRelay(events eventRepo, producer producer, interval time.Duration, batchSize int, logger *slog.Logger) *Relay {
	return &Relay{
		events:    events,
		producer:  producer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			r.publishPending(ctx)
		}
	}
}

func (r *Relay) publishPending(ctx context.Context) {
	events, err := r.events.GetUnpublished(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("outbox poll failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		headers := map[string]string{"event_type": string(e.EventType)}
		if err := r.producer.Publish(ctx, []byte(e.PaymentID.String()), e.Payload, headers); err != nil {
			r.logger.Error("event publish failed",
				"event_id", e.ID,
				"payment_id", e.PaymentID,
				"error", err,
			)
			return
		}

		if err := r.events.MarkPublished(ctx, e.ID, time.Now().UTC()); err != nil {
			// The event was delivered but not stamped; the next tick will
			// redeliver it. Consumers must tolerate at-least-once.
			r.logger.Error("mark published failed", "event_id", e.ID, "error", err)
			return
		}

		r.logger.Debug("event published", "event_id", e.ID, "event_type", e.EventType)
	}
}
