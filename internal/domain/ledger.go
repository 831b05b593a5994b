package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry records one side of a settlement. Settling a payment produces
// a balanced debit/credit pair sharing a LedgerTransactionID.
type LedgerEntry struct {
	ID                  uuid.UUID
	LedgerTransactionID uuid.UUID
	PaymentID           uuid.UUID
	AccountID           uuid.UUID
	EntryType           EntryType
	Amount              decimal.Decimal
	Currency            Currency
	CreatedAt           time.Time
}
