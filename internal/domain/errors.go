package domain

import "errors"

var (
	// ErrInvalidMovementType is returned when parsing an unknown movement type.
	ErrInvalidMovementType = errors.New("invalid movement type")

	// ErrInsufficientStock is returned by the authoritative fulfillment check.
	ErrInsufficientStock = errors.New("insufficient stock")
)
