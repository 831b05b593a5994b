package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentEventType string

const (
	PaymentEventTypeCreated    PaymentEventType = "created"
	PaymentEventTypeAuthorized PaymentEventType = "authorized"
	PaymentEventTypeSettled    PaymentEventType = "settled"
	PaymentEventTypeFailed     PaymentEventType = "failed"
)

// PaymentEvent is the persisted envelope for a lifecycle event. It is written
// in the same transaction as the status change and later relayed to Kafka;
// PublishedAt is nil until the relay has delivered it.
type PaymentEvent struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	EventType   PaymentEventType
	Actor       string
	Payload     json.RawMessage
	OccurredAt  time.Time
	PublishedAt *time.Time
}

// Typed event payloads. Each is an immutable fact stamped with a fresh event
// id and the time of occurrence at construction.

type PaymentCreatedEvent struct {
	EventID              uuid.UUID       `json:"event_id"`
	PaymentID            uuid.UUID       `json:"payment_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             Currency        `json:"currency"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

type PaymentAuthorizedEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type PaymentSettledEvent struct {
	EventID             uuid.UUID       `json:"event_id"`
	PaymentID           uuid.UUID       `json:"payment_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            Currency        `json:"currency"`
	LedgerTransactionID uuid.UUID       `json:"ledger_transaction_id"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

type PaymentFailedEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	Reason      string          `json:"reason"`
	PriorStatus PaymentStatus   `json:"prior_status"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func NewPaymentCreatedEvent(p *Payment, now time.Time) PaymentCreatedEvent {
	return PaymentCreatedEvent{
		EventID:              uuid.New(),
		PaymentID:            p.ID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		OccurredAt:           now,
	}
}

func NewPaymentAuthorizedEvent(p *Payment, now time.Time) PaymentAuthorizedEvent {
	return PaymentAuthorizedEvent{
		EventID:    uuid.New(),
		PaymentID:  p.ID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: now,
	}
}

func NewPaymentSettledEvent(p *Payment, ledgerTxID uuid.UUID, now time.Time) PaymentSettledEvent {
	return PaymentSettledEvent{
		EventID:             uuid.New(),
		PaymentID:           p.ID,
		Amount:              p.Amount,
		Currency:            p.Currency,
		LedgerTransactionID: ledgerTxID,
		OccurredAt:          now,
	}
}

func NewPaymentFailedEvent(p *Payment, reason string, priorStatus PaymentStatus, now time.Time) PaymentFailedEvent {
	return PaymentFailedEvent{
		EventID:     uuid.New(),
		PaymentID:   p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Reason:      reason,
		PriorStatus: priorStatus,
		OccurredAt:  now,
	}
}
