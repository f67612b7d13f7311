package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// Fallback writes to a primary store and drops to a local ledger when the
// primary fails. Reads merge both so nothing written during an outage is
// lost from trust resolution.
type Fallback struct {
	primary domain.Ledger
	local   domain.Ledger
	name    string
	log     *slog.Logger
}

// NewFallback creates a fallback ledger. name labels the primary in logs
// and metrics.
func NewFallback(name string, primary, local domain.Ledger) *Fallback {
	return &Fallback{primary: primary, local: local, name: name, log: logging.New("ledger.fallback")}
}

// Append tries the primary, then the local ledger. Only when both fail is
// an error returned.
func (f *Fallback) Append(ctx context.Context, rec domain.LedgerRecord) error {
	perr := f.primary.Append(ctx, rec)
	if perr == nil {
		return nil
	}
	f.log.Warn("primary ledger append failed, writing locally", "primary", f.name, "error", perr)
	observability.LedgerAppends.WithLabelValues(f.name, observability.ResultFallback).Inc()

	if lerr := f.local.Append(ctx, rec); lerr != nil {
		f.log.Error("ledger append failed on both stores", "primary_error", perr, "local_error", lerr)
		return fmt.Errorf("%w: %w: primary: %v; local: %v", domain.ErrPersistence, domain.ErrPersistenceUnavailable, perr, lerr)
	}
	return nil
}

// ReadAll merges the primary and local streams by timestamp. Each stream
// keeps its own order; on ties or unparseable timestamps the primary goes
// first.
func (f *Fallback) ReadAll(ctx context.Context) ([]domain.LedgerRecord, error) {
	primary, perr := f.primary.ReadAll(ctx)
	if perr != nil {
		f.log.Warn("primary ledger unreadable, using local records only", "primary", f.name, "error", perr)
		primary = nil
	}
	local, lerr := f.local.ReadAll(ctx)
	if lerr != nil {
		f.log.Warn("local ledger unreadable", "error", lerr)
		local = nil
	}
	if perr != nil && lerr != nil {
		return nil, fmt.Errorf("%w: primary: %v; local: %v", domain.ErrPersistenceUnavailable, perr, lerr)
	}
	return Merge(primary, local), nil
}

// Merge interleaves two append-ordered streams by record time.
func Merge(a, b []domain.LedgerRecord) []domain.LedgerRecord {
	out := make([]domain.LedgerRecord, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ta, okA := a[i].Time()
		tb, okB := b[j].Time()
		if okA && okB && tb.Before(ta) {
			out = append(out, b[j])
			j++
			continue
		}
		out = append(out, a[i])
		i++
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// NewestFirst returns recs in reverse append order.
func NewestFirst(recs []domain.LedgerRecord) []domain.LedgerRecord {
	out := make([]domain.LedgerRecord, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = r
	}
	return out
}
