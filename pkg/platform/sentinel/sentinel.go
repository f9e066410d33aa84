package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist in the store
// - ErrConflict: unique-key or serialization conflict; safe to retry
// - ErrInvalidState: entity in a terminal or wrong state for the operation
// - ErrCorrupted: stored state violates a ledger invariant; never auto-repaired
// - ErrUnavailable: backing service temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrCorrupted    = errors.New("corrupted state")
	ErrUnavailable  = errors.New("unavailable")
)
