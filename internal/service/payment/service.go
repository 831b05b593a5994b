package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novapay/payments-service/internal/domain"
)

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, failureReason *string) error
	MarkSettled(ctx context.Context, tx *sql.Tx, id, ledgerTxID uuid.UUID, settledAt time.Time) error
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) error
	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type Service struct {
	payments paymentRepo
	events   eventRepo
	ledger   ledgerRepo
	db       *sql.DB
}

func NewService(payments paymentRepo, events eventRepo, ledger ledgerRepo, db *sql.DB) *Service {
	return &Service{
		payments: payments,
		events:   events,
		ledger:   ledger,
		db:       db,
	}
}

func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	return p, nil
}

// GetPaymentEvents returns the payment's audit trail in occurrence order.
func (s *Service) GetPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("GetPaymentEvents: %w", err)
	}

	events, err := s.events.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPaymentEvents: %w", err)
	}
	return events, nil
}

func (s *Service) writeEvent(ctx context.Context, tx *sql.Tx, eventID, paymentID uuid.UUID, eventType domain.PaymentEventType, actorID uuid.UUID, payload any, occurredAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("writeEvent: marshal: %w", err)
	}

	event := &domain.PaymentEvent{
		ID:         eventID,
		PaymentID:  paymentID,
		EventType:  eventType,
		Actor:      fmt.Sprintf("actor:%s", actorID),
		Payload:    raw,
		OccurredAt: occurredAt,
	}
	if err := s.events.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("writeEvent: %w", err)
	}
	return nil
}
