package services

import (
	"errors"

	"fitshop/internal/repositories"
)

// Error categories surfaced by the order lifecycle. Handlers map these to
// HTTP statuses with errors.Is; wrapped context travels alongside via %w.
var (
	// ErrUnauthorized means the authenticated buyer does not own the order.
	ErrUnauthorized = errors.New("buyer does not own this order")

	// ErrValidationFailed means the request carried malformed, missing or
	// non-positive fields.
	ErrValidationFailed = errors.New("validation failed")

	// ErrGatewayUnavailable means the payment gateway call failed; no order
	// state was persisted.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidSignature means the authenticity check on a payment result
	// failed.
	ErrInvalidSignature = errors.New("invalid payment signature")

	// ErrOrderNotFound means no order matched the given key.
	ErrOrderNotFound = repositories.ErrOrderNotFound

	// ErrInvalidState means the requested transition violates the order
	// state machine; nothing was mutated.
	ErrInvalidState = errors.New("transition not allowed in current order state")

	// ErrPersistenceFailed means the order store write failed.
	ErrPersistenceFailed = errors.New("order persistence failed")
)
