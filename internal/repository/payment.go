package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/novapay/payments-service/internal/domain"
)

const paymentColumns = `id, idempotency_key, amount, currency, source_account_id,
	destination_account_id, status, failure_reason, ledger_transaction_id,
	created_at, updated_at, settled_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, idempotency_key, amount, currency, source_account_id,
			destination_account_id, status, failure_reason, ledger_transaction_id,
			created_at, updated_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		payment.ID, payment.IdempotencyKey, payment.Amount, payment.Currency, payment.SourceAccountID,
		payment.DestinationAccountID, payment.Status, payment.FailureReason, payment.LedgerTransactionID,
		payment.CreatedAt, payment.UpdatedAt, payment.SettledAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("Create: %w", domain.ErrDuplicatePayment)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return p, nil
}

// GetForUpdate locks the payment row for the duration of the transaction so
// concurrent lifecycle transitions serialize on it.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

// UpdateStatus performs a compare-and-set transition from one status to
// another. Zero rows affected means the payment was not in the expected
// status.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, failureReason *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, failureReason, id, from,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrInvalidTransition)
	}
	return nil
}

// MarkSettled transitions an authorized payment to settled and records the
// ledger transaction that moved the funds.
func (r *PaymentRepository) MarkSettled(ctx context.Context, tx *sql.Tx, id, ledgerTxID uuid.UUID, settledAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, ledger_transaction_id = $2, settled_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5`,
		domain.PaymentStatusSettled, ledgerTxID, settledAt, id, domain.PaymentStatusAuthorized,
	)
	if err != nil {
		return fmt.Errorf("MarkSettled: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkSettled: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkSettled: %w", domain.ErrInvalidTransition)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var ledgerTxID uuid.NullUUID

	err := s.Scan(
		&p.ID, &p.IdempotencyKey, &p.Amount, &p.Currency, &p.SourceAccountID,
		&p.DestinationAccountID, &p.Status, &p.FailureReason, &ledgerTxID,
		&p.CreatedAt, &p.UpdatedAt, &p.SettledAt,
	)
	if err != nil {
		return nil, err
	}

	if ledgerTxID.Valid {
		p.LedgerTransactionID = &ledgerTxID.UUID
	}

	return &p, nil
}
