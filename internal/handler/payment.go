package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novapay/payments-service/internal/auth"
	"github.com/novapay/payments-service/internal/domain"
	"github.com/novapay/payments-service/internal/logging"
	"github.com/novapay/payments-service/internal/service/payment"
)

type paymentService interface {
	Create(ctx context.Context, req payment.CreateRequest) (*domain.Payment, bool, error)
	Authorize(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)
	Settle(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)
	Fail(ctx context.Context, paymentID uuid.UUID, reason string, actorID uuid.UUID) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	GetPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createPaymentRequest struct {
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
}

func (r createPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if !r.Amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	if r.SourceAccountID == "" {
		errs = append(errs, FieldError{Field: "source_account_id", Message: "required"})
	} else if _, err := uuid.Parse(r.SourceAccountID); err != nil {
		errs = append(errs, FieldError{Field: "source_account_id", Message: "must be a valid UUID"})
	}

	if r.DestinationAccountID == "" {
		errs = append(errs, FieldError{Field: "destination_account_id", Message: "required"})
	} else if _, err := uuid.Parse(r.DestinationAccountID); err != nil {
		errs = append(errs, FieldError{Field: "destination_account_id", Message: "must be a valid UUID"})
	}

	return errs
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

func (r failPaymentRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required"})
	}
	return errs
}

type paymentDTO struct {
	ID                   uuid.UUID       `json:"id"`
	Status               string          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	LedgerTransactionID  *uuid.UUID      `json:"ledger_transaction_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:                   p.ID,
		Status:               string(p.Status),
		Amount:               p.Amount,
		Currency:             string(p.Currency),
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		FailureReason:        p.FailureReason,
		LedgerTransactionID:  p.LedgerTransactionID,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
		SettledAt:            p.SettledAt,
	}
}

type paymentEventDTO struct {
	ID         uuid.UUID       `json:"id"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	EventType  string          `json:"event_type"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func toPaymentEventDTOs(events []domain.PaymentEvent) []paymentEventDTO {
	dtos := make([]paymentEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, paymentEventDTO{
			ID:         e.ID,
			PaymentID:  e.PaymentID,
			EventType:  string(e.EventType),
			Actor:      e.Actor,
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
		})
	}
	return dtos
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, replayed, err := h.payments.Create(r.Context(), payment.CreateRequest{
		IdempotencyKey:       idempotencyKey,
		Amount:               req.Amount,
		Currency:             domain.Currency(req.Currency),
		SourceAccountID:      uuid.MustParse(req.SourceAccountID),
		DestinationAccountID: uuid.MustParse(req.DestinationAccountID),
		ActorID:              actorID,
	})
	if err != nil {
		log.Warn("payment creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	if replayed {
		w.Header().Set("X-Idempotent-Replayed", "true")
		RespondJSON(w, http.StatusOK, toPaymentDTO(p))
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	RespondJSON(w, http.StatusCreated, toPaymentDTO(p))
}

func (h *PaymentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "authorization failed", h.payments.Authorize)
}

func (h *PaymentHandler) Settle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "settlement failed", h.payments.Settle)
}

func (h *PaymentHandler) transition(w http.ResponseWriter, r *http.Request, logMsg string, op func(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)) {
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}

	p, err := op(r.Context(), paymentID, actorID)
	if err != nil {
		logging.FromContext(r.Context()).Warn(logMsg, "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Fail(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}

	var req failPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.payments.Fail(r.Context(), paymentID, req.Reason, actorID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("fail transition rejected", "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Events(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrPaymentNotFound, nil)
		return
	}

	events, err := h.payments.GetPaymentEvents(r.Context(), paymentID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("event lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, toPaymentEventDTOs(events))
}
