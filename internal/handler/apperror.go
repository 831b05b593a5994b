package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken          = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken          = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest        = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed      = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency       = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrSameAccount           = &AppError{http.StatusBadRequest, "SAME_ACCOUNT", "Source and destination accounts must differ"}
	ErrPaymentNotFound       = &AppError{http.StatusNotFound, "PAYMENT_NOT_FOUND", "Payment not found"}
	ErrDuplicatePayment      = &AppError{http.StatusConflict, "DUPLICATE_PAYMENT", "Duplicate payment"}
	ErrInvalidTransition     = &AppError{http.StatusConflict, "INVALID_STATUS_TRANSITION", "Payment status does not allow this transition"}
	ErrPaymentTerminal       = &AppError{http.StatusConflict, "PAYMENT_ALREADY_TERMINAL", "Payment is already in a terminal state"}
	ErrInternalError         = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
)
