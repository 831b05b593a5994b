package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novapay/payments-service/internal/domain"
	"github.com/novapay/payments-service/internal/logging"
)

type CreateRequest struct {
	IdempotencyKey       string
	Amount               decimal.Decimal
	Currency             domain.Currency
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	ActorID              uuid.UUID
}

// Create records a new payment in the created state and emits a
// PaymentCreatedEvent in the same transaction. Re-sending a known
// idempotency key returns the stored payment with replayed set.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Payment, bool, error) {
	log := logging.FromContext(ctx)

	if err := validateCreate(req); err != nil {
		return nil, false, fmt.Errorf("Create: %w", err)
	}

	existing, err := s.payments.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		if !matchesExisting(req, existing) {
			return nil, false, fmt.Errorf("Create: key reused with different request: %w", domain.ErrDuplicatePayment)
		}
		return existing, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("Create: %w", err)
	}

	now := time.Now().UTC()
	p := &domain.Payment{
		ID:                   uuid.New(),
		IdempotencyKey:       req.IdempotencyKey,
		Amount:               req.Amount,
		Currency:             req.Currency,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Status:               domain.PaymentStatusCreated,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.insertPayment(ctx, p, req.ActorID, now); err != nil {
		// Lost an insert race on the idempotency key: the winner's row
		// is the payment this request asked for.
		if errors.Is(err, domain.ErrDuplicatePayment) {
			winner, getErr := s.payments.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil || !matchesExisting(req, winner) {
				return nil, false, fmt.Errorf("Create: %w", err)
			}
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("Create: %w", err)
	}

	log.Info("payment created",
		"payment_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency,
		"source_account", p.SourceAccountID,
		"destination_account", p.DestinationAccountID,
	)

	return p, false, nil
}

func (s *Service) insertPayment(ctx context.Context, p *domain.Payment, actorID uuid.UUID, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insertPayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return fmt.Errorf("insertPayment: %w", err)
	}

	created := domain.NewPaymentCreatedEvent(p, now)
	if err := s.writeEvent(ctx, tx, created.EventID, p.ID, domain.PaymentEventTypeCreated, actorID, created, now); err != nil {
		return fmt.Errorf("insertPayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insertPayment: commit: %w", err)
	}
	return nil
}

// Authorize moves a created payment to authorized.
func (s *Service) Authorize(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Authorize: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	if !p.Status.CanTransitionTo(domain.PaymentStatusAuthorized) {
		return nil, fmt.Errorf("Authorize: from %s: %w", p.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if err := s.payments.UpdateStatus(ctx, tx, p.ID, p.Status, domain.PaymentStatusAuthorized, nil); err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	authorized := domain.NewPaymentAuthorizedEvent(p, now)
	if err := s.writeEvent(ctx, tx, authorized.EventID, p.ID, domain.PaymentEventTypeAuthorized, actorID, authorized, now); err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Authorize: commit: %w", err)
	}

	p.Status = domain.PaymentStatusAuthorized
	p.UpdatedAt = now

	logging.FromContext(ctx).Info("payment authorized", "payment_id", p.ID)
	return p, nil
}

// Settle moves an authorized payment to settled, writing the balanced
// debit/credit ledger pair and the settlement event in one transaction.
func (s *Service) Settle(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Settle: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	if !p.Status.CanTransitionTo(domain.PaymentStatusSettled) {
		return nil, fmt.Errorf("Settle: from %s: %w", p.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	ledgerTxID := uuid.New()

	if err := s.payments.MarkSettled(ctx, tx, p.ID, ledgerTxID, now); err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	if err := s.writeLedgerEntries(ctx, tx, p, ledgerTxID, now); err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	settled := domain.NewPaymentSettledEvent(p, ledgerTxID, now)
	if err := s.writeEvent(ctx, tx, settled.EventID, p.ID, domain.PaymentEventTypeSettled, actorID, settled, now); err != nil {
		return nil, fmt.Errorf("Settle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Settle: commit: %w", err)
	}

	p.Status = domain.PaymentStatusSettled
	p.LedgerTransactionID = &ledgerTxID
	p.SettledAt = &now
	p.UpdatedAt = now

	logging.FromContext(ctx).Info("payment settled",
		"payment_id", p.ID,
		"ledger_transaction_id", ledgerTxID,
	)
	return p, nil
}

// Fail moves any non-terminal payment to failed, recording the reason.
func (s *Service) Fail(ctx context.Context, paymentID uuid.UUID, reason string, actorID uuid.UUID) (*domain.Payment, error) {
	if reason == "" {
		return nil, fmt.Errorf("Fail: reason: %w", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Fail: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.payments.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}

	if p.Status.IsTerminal() {
		return nil, fmt.Errorf("Fail: from %s: %w", p.Status, domain.ErrPaymentTerminal)
	}

	priorStatus := p.Status
	now := time.Now().UTC()

	if err := s.payments.UpdateStatus(ctx, tx, p.ID, priorStatus, domain.PaymentStatusFailed, &reason); err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}

	failed := domain.NewPaymentFailedEvent(p, reason, priorStatus, now)
	if err := s.writeEvent(ctx, tx, failed.EventID, p.ID, domain.PaymentEventTypeFailed, actorID, failed, now); err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Fail: commit: %w", err)
	}

	p.Status = domain.PaymentStatusFailed
	p.FailureReason = &reason
	p.UpdatedAt = now

	logging.FromContext(ctx).Info("payment failed",
		"payment_id", p.ID,
		"prior_status", priorStatus,
		"reason", reason,
	)
	return p, nil
}

func (s *Service) writeLedgerEntries(ctx context.Context, tx *sql.Tx, p *domain.Payment, ledgerTxID uuid.UUID, now time.Time) error {
	debit := &domain.LedgerEntry{
		ID:                  uuid.New(),
		LedgerTransactionID: ledgerTxID,
		PaymentID:           p.ID,
		AccountID:           p.SourceAccountID,
		EntryType:           domain.EntryTypeDebit,
		Amount:              p.Amount,
		Currency:            p.Currency,
		CreatedAt:           now,
	}
	if err := s.ledger.Create(ctx, tx, debit); err != nil {
		return fmt.Errorf("writeLedgerEntries: debit: %w", err)
	}

	credit := &domain.LedgerEntry{
		ID:                  uuid.New(),
		LedgerTransactionID: ledgerTxID,
		PaymentID:           p.ID,
		AccountID:           p.DestinationAccountID,
		EntryType:           domain.EntryTypeCredit,
		Amount:              p.Amount,
		Currency:            p.Currency,
		CreatedAt:           now,
	}
	if err := s.ledger.Create(ctx, tx, credit); err != nil {
		return fmt.Errorf("writeLedgerEntries: credit: %w", err)
	}

	return nil
}

// matchesExisting reports whether a replayed create describes the same
// payment the key was first used for. A key reused with a different request
// is a duplicate, not a replay.
func matchesExisting(req CreateRequest, p *domain.Payment) bool {
	return req.Amount.Equal(p.Amount) &&
		req.Currency == p.Currency &&
		req.SourceAccountID == p.SourceAccountID &&
		req.DestinationAccountID == p.DestinationAccountID
}

func validateCreate(req CreateRequest) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("validateCreate: %w", domain.ErrMissingIdempotencyKey)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return fmt.Errorf("validateCreate: %w", domain.ErrInvalidCurrency)
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return fmt.Errorf("validateCreate: %w", domain.ErrSameAccount)
	}
	return nil
}
