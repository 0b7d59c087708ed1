package models

import "errors"

// Store errors
var (
	ErrNotFound         = errors.New("entity not found")
	ErrAlreadyExists    = errors.New("entity already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Workflow errors
var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrConflictingOpenOrder = errors.New("an open order for this product already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Retryable reports whether err may succeed when retried unchanged.
// Only store I/O failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
