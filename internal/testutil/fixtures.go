package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novapay/payments-service/internal/domain"
)

func SeedPayment(t *testing.T, db *sql.DB, status domain.PaymentStatus) *domain.Payment {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.Payment{
		ID:                   uuid.New(),
		IdempotencyKey:       uuid.NewString(),
		Amount:               decimal.NewFromInt(2500),
		Currency:             domain.CurrencyUSD,
		SourceAccountID:      uuid.New(),
		DestinationAccountID: uuid.New(),
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	_, err := db.Exec(
		`INSERT INTO payments (id, idempotency_key, amount, currency, source_account_id,
			destination_account_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.IdempotencyKey, p.Amount, p.Currency, p.SourceAccountID,
		p.DestinationAccountID, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func GetPaymentStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.PaymentStatus {
	t.Helper()
	var status domain.PaymentStatus
	if err := db.QueryRow(`SELECT status FROM payments WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("get payment status: %v", err)
	}
	return status
}

func CountUnpublishedEvents(t *testing.T, db *sql.DB, paymentID uuid.UUID) int {
	t.Helper()
	var n int
	err := db.QueryRow(
		`SELECT count(*) FROM payment_events WHERE payment_id = $1 AND published_at IS NULL`,
		paymentID,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count unpublished events: %v", err)
	}
	return n
}
