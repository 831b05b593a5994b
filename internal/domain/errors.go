package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrSameAccount           = errors.New("source and destination accounts must differ")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrDuplicatePayment      = errors.New("duplicate payment")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrPaymentTerminal       = errors.New("payment already in terminal state")
	ErrInvalidRequest        = errors.New("invalid request")
)
