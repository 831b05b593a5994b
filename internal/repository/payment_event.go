package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novapay/payments-service/internal/domain"
)

const paymentEventColumns = `id, payment_id, event_type, actor, payload, occurred_at, published_at`

// PaymentEventRepository stores lifecycle events. The table doubles as the
// transactional outbox: rows with a NULL published_at are waiting for the
// relay to deliver them.
type PaymentEventRepository struct {
	db *sql.DB
}

func NewPaymentEventRepository(db *sql.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (id, payment_id, event_type, actor, payload, occurred_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.PaymentID, event.EventType, event.Actor,
		event.Payload, event.OccurredAt, event.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentEventRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentEventColumns+` FROM payment_events
		WHERE payment_id = $1 ORDER BY occurred_at`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	defer rows.Close()

	events, err := collectPaymentEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	return events, nil
}

func (r *PaymentEventRepository) GetUnpublished(ctx context.Context, limit int) ([]domain.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentEventColumns+` FROM payment_events
		WHERE published_at IS NULL ORDER BY occurred_at LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetUnpublished: %w", err)
	}
	defer rows.Close()

	events, err := collectPaymentEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("GetUnpublished: %w", err)
	}
	return events, nil
}

func (r *PaymentEventRepository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_events SET published_at = $1 WHERE id = $2 AND published_at IS NULL`,
		publishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("MarkPublished: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkPublished: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkPublished: %w", domain.ErrNotFound)
	}
	return nil
}

func collectPaymentEvents(rows *sql.Rows) ([]domain.PaymentEvent, error) {
	var events []domain.PaymentEvent
	for rows.Next() {
		e, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}

func scanPaymentEvent(s scanner) (*domain.PaymentEvent, error) {
	var e domain.PaymentEvent
	err := s.Scan(
		&e.ID, &e.PaymentID, &e.EventType, &e.Actor,
		&e.Payload, &e.OccurredAt, &e.PublishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
