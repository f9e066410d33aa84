package models

import (
	"errors"
	"fmt"
)

// Domain errors for the slot ledger. InsufficientSlotsError is a struct so it
// can carry the current balance back to the UI for a top-up prompt.

var (
	// ErrAccountNotInitialized means no balance row exists for the
	// coordinator yet. Recoverable: initialize, then retry once.
	ErrAccountNotInitialized = errors.New("slot account not initialized")

	// ErrInvalidUsageRequest is a caller error, e.g. a non-positive slot
	// count or an unknown usage type.
	ErrInvalidUsageRequest = errors.New("invalid usage request")

	// ErrGatewayUnavailable marks a transient gateway failure; callers may
	// retry with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected marks a terminal gateway failure for this reference.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

// InsufficientSlotsError is terminal for the attempt; it is never retried.
type InsufficientSlotsError struct {
	Available int
	Requested int
}

func (e *InsufficientSlotsError) Error() string {
	return fmt.Sprintf("insufficient slots: available %d, required %d", e.Available, e.Requested)
}

// IsInsufficientSlots reports whether err carries an InsufficientSlotsError.
func IsInsufficientSlots(err error) bool {
	var ise *InsufficientSlotsError
	return errors.As(err, &ise)
}
