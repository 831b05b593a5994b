package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novapay/payments-service/internal/auth"
	"github.com/novapay/payments-service/internal/domain"
	"github.com/novapay/payments-service/internal/service/payment"
)

type stubPaymentService struct {
	createFn    func(ctx context.Context, req payment.CreateRequest) (*domain.Payment, bool, error)
	authorizeFn func(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)
	settleFn    func(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)
	failFn      func(ctx context.Context, paymentID uuid.UUID, reason string, actorID uuid.UUID) (*domain.Payment, error)
	getFn       func(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	getEventsFn func(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error)
}

func (s *stubPaymentService) Create(ctx context.Context, req payment.CreateRequest) (*domain.Payment, bool, error) {
	return s.createFn(ctx, req)
}

func (s *stubPaymentService) Authorize(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
	return s.authorizeFn(ctx, paymentID, actorID)
}

func (s *stubPaymentService) Settle(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
	return s.settleFn(ctx, paymentID, actorID)
}

func (s *stubPaymentService) Fail(ctx context.Context, paymentID uuid.UUID, reason string, actorID uuid.UUID) (*domain.Payment, error) {
	return s.failFn(ctx, paymentID, reason, actorID)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.getFn(ctx, paymentID)
}

func (s *stubPaymentService) GetPaymentEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentEvent, error) {
	return s.getEventsFn(ctx, paymentID)
}

func newTestMux(svc paymentService) *http.ServeMux {
	h := NewPaymentHandler(svc)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/payments", h.Create)
	mux.HandleFunc("POST /api/v1/payments/{id}/authorize", h.Authorize)
	mux.HandleFunc("POST /api/v1/payments/{id}/settle", h.Settle)
	mux.HandleFunc("POST /api/v1/payments/{id}/fail", h.Fail)
	mux.HandleFunc("GET /api/v1/payments/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/payments/{id}/events", h.Events)
	return mux
}

func testPayment(status domain.PaymentStatus) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:                   uuid.New(),
		IdempotencyKey:       "key-1",
		Amount:               decimal.RequireFromString("99.99"),
		Currency:             domain.CurrencyUSD,
		SourceAccountID:      uuid.New(),
		DestinationAccountID: uuid.New(),
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func doRequest(mux *http.ServeMux, method, target string, body []byte, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req = req.WithContext(auth.ContextWithActorID(req.Context(), uuid.New()))
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func withIdempotencyKey(key string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Idempotency-Key", key) }
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func validCreateBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"amount":                 "150.00",
		"currency":               "USD",
		"source_account_id":      uuid.NewString(),
		"destination_account_id": uuid.NewString(),
	})
	require.NoError(t, err)
	return body
}

func TestCreatePayment(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		p := testPayment(domain.PaymentStatusCreated)
		svc := &stubPaymentService{
			createFn: func(ctx context.Context, req payment.CreateRequest) (*domain.Payment, bool, error) {
				assert.Equal(t, "key-1", req.IdempotencyKey)
				assert.Equal(t, domain.CurrencyUSD, req.Currency)
				return p, false, nil
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments", validCreateBody(t), withIdempotencyKey("key-1"))

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, fmt.Sprintf("/api/v1/payments/%s", p.ID), rec.Header().Get("Location"))

		var dto paymentDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		assert.Equal(t, p.ID, dto.ID)
		assert.Equal(t, "created", dto.Status)
	})

	t.Run("idempotent replay", func(t *testing.T) {
		p := testPayment(domain.PaymentStatusAuthorized)
		svc := &stubPaymentService{
			createFn: func(ctx context.Context, req payment.CreateRequest) (*domain.Payment, bool, error) {
				return p, true, nil
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments", validCreateBody(t), withIdempotencyKey("key-1"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "true", rec.Header().Get("X-Idempotent-Replayed"))
		assert.Empty(t, rec.Header().Get("Location"))
	})

	t.Run("missing idempotency key header", func(t *testing.T) {
		svc := &stubPaymentService{}

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments", validCreateBody(t))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", body.Error)
		assert.False(t, body.Timestamp.IsZero())
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &stubPaymentService{}

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments", []byte("{not json"), withIdempotencyKey("key-1"))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Error)
	})

	t.Run("validation failure lists fields", func(t *testing.T) {
		svc := &stubPaymentService{}
		body, err := json.Marshal(map[string]any{
			"amount":                 "-5",
			"currency":               "XYZ",
			"source_account_id":      "not-a-uuid",
			"destination_account_id": "",
		})
		require.NoError(t, err)

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments", body, withIdempotencyKey("key-1"))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "VALIDATION_FAILED", resp.Error)

		details, err := json.Marshal(resp.Details)
		require.NoError(t, err)
		var fields []FieldError
		require.NoError(t, json.Unmarshal(details, &fields))
		assert.Len(t, fields, 4)
	})

	t.Run("missing actor", func(t *testing.T) {
		svc := &stubPaymentService{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(validCreateBody(t)))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		newTestMux(svc).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTransitionEndpoints(t *testing.T) {
	t.Run("authorize", func(t *testing.T) {
		p := testPayment(domain.PaymentStatusAuthorized)
		svc := &stubPaymentService{
			authorizeFn: func(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
				assert.Equal(t, p.ID, paymentID)
				return p, nil
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/authorize", p.ID), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var dto paymentDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		assert.Equal(t, "authorized", dto.Status)
	})

	t.Run("settle conflict on invalid transition", func(t *testing.T) {
		svc := &stubPaymentService{
			settleFn: func(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
				return nil, fmt.Errorf("Settle: %w", domain.ErrInvalidTransition)
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/settle", uuid.New()), nil)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INVALID_STATUS_TRANSITION", decodeError(t, rec).Error)
	})

	t.Run("fail requires reason", func(t *testing.T) {
		svc := &stubPaymentService{}

		rec := doRequest(newTestMux(svc), http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/fail", uuid.New()), []byte(`{}`))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Error)
	})

	t.Run("fail terminal payment conflicts", func(t *testing.T) {
		svc := &stubPaymentService{
			failFn: func(ctx context.Context, paymentID uuid.UUID, reason string, actorID uuid.UUID) (*domain.Payment, error) {
				return nil, fmt.Errorf("Fail: %w", domain.ErrPaymentTerminal)
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/fail", uuid.New()), []byte(`{"reason":"card declined"}`))

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "PAYMENT_ALREADY_TERMINAL", decodeError(t, rec).Error)
	})

	t.Run("malformed payment id", func(t *testing.T) {
		svc := &stubPaymentService{}

		rec := doRequest(newTestMux(svc), http.MethodPost, "/api/v1/payments/not-a-uuid/authorize", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "PAYMENT_NOT_FOUND", decodeError(t, rec).Error)
	})
}

func TestGetPayment(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		p := testPayment(domain.PaymentStatusSettled)
		ledgerTxID := uuid.New()
		p.LedgerTransactionID = &ledgerTxID
		svc := &stubPaymentService{
			getFn: func(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
				return p, nil
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodGet, fmt.Sprintf("/api/v1/payments/%s", p.ID), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var dto paymentDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		require.NotNil(t, dto.LedgerTransactionID)
		assert.Equal(t, ledgerTxID, *dto.LedgerTransactionID)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &stubPaymentService{
			getFn: func(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
				return nil, fmt.Errorf("GetPayment: %w", domain.ErrNotFound)
			},
		}

		rec := doRequest(newTestMux(svc), http.MethodGet, fmt.Sprintf("/api/v1/payments/%s", uuid.New()), nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "PAYMENT_NOT_FOUND", decodeError(t, rec).Error)
	})
}

func TestGetPaymentEvents(t *testing.T) {
	paymentID := uuid.New()
	events := []domain.PaymentEvent{
		{
			ID:         uuid.New(),
			PaymentID:  paymentID,
			EventType:  domain.PaymentEventTypeCreated,
			Actor:      "actor:" + uuid.NewString(),
			Payload:    json.RawMessage(`{"amount":"99.99"}`),
			OccurredAt: time.Now().UTC(),
		},
		{
			ID:         uuid.New(),
			PaymentID:  paymentID,
			EventType:  domain.PaymentEventTypeFailed,
			Actor:      "actor:" + uuid.NewString(),
			Payload:    json.RawMessage(`{"reason":"card declined"}`),
			OccurredAt: time.Now().UTC(),
		},
	}
	svc := &stubPaymentService{
		getEventsFn: func(ctx context.Context, id uuid.UUID) ([]domain.PaymentEvent, error) {
			assert.Equal(t, paymentID, id)
			return events, nil
		},
	}

	rec := doRequest(newTestMux(svc), http.MethodGet, fmt.Sprintf("/api/v1/payments/%s/events", paymentID), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []paymentEventDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 2)
	assert.Equal(t, "created", dtos[0].EventType)
	assert.Equal(t, "failed", dtos[1].EventType)
}
