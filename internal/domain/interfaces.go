package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Ledger is the append-only interaction log. It is the only durable state
// the decision core owns.
type Ledger interface {
	// Append writes the whole record or nothing. Failures wrap ErrPersistence.
	Append(ctx context.Context, rec LedgerRecord) error

	// ReadAll returns every record in append order. A missing or corrupt
	// store reads as empty; an error is returned only when the backend
	// itself cannot be queried.
	ReadAll(ctx context.Context) ([]LedgerRecord, error)
}

// TextGenerator is the free-text completion service used for drafting and
// for advisory proposals. Output is untyped and may be malformed.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Deliverer sends a drafted message. It never fails: transport problems are
// folded into the returned status.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) DeliveryResult
}

// AnalyticsSink stores full analysis responses for later inspection.
// It is not decision-relevant.
type AnalyticsSink interface {
	Save(ctx context.Context, rec AnalysisRecord) error
	Recent(ctx context.Context, limit int) ([]AnalysisRecord, error)
}
