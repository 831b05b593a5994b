package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusSettled    PaymentStatus = "settled"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Lifecycle: created -> authorized -> settled. A payment can fail from any
// non-terminal state; settled and failed are terminal.
var validTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:    {PaymentStatusAuthorized, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusSettled, PaymentStatusFailed},
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSettled || s == PaymentStatusFailed
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Payment struct {
	ID                   uuid.UUID
	IdempotencyKey       string
	Amount               decimal.Decimal
	Currency             Currency
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Status               PaymentStatus
	FailureReason        *string
	LedgerTransactionID  *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SettledAt            *time.Time
}
