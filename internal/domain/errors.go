package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Request errors
	ErrInvalidRequest = errors.New("invalid request shape")

	// Decision errors
	ErrMalformedProposal = errors.New("proposal is not a valid structured decision")
	ErrGenerationFailed  = errors.New("text generation failed")

	// Dispatch errors
	ErrDeliveryFailure = errors.New("delivery transport failed")

	// Persistence errors
	ErrPersistence            = errors.New("ledger store is not writable")
	ErrPersistenceUnavailable = errors.New("primary store unreachable")
)
