package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// Fallback saves to a primary sink and, when that fails, to a local one.
// Reads prefer the primary.
type Fallback struct {
	primary domain.AnalyticsSink
	local   domain.AnalyticsSink
	name    string
	log     *slog.Logger
}

// NewFallback creates a fallback sink. name labels the primary in metrics.
func NewFallback(name string, primary, local domain.AnalyticsSink) *Fallback {
	return &Fallback{primary: primary, local: local, name: name, log: logging.New("analytics")}
}

// Save writes to the primary, then to the local sink.
func (f *Fallback) Save(ctx context.Context, rec domain.AnalysisRecord) error {
	perr := f.primary.Save(ctx, rec)
	if perr == nil {
		observability.AnalyticsSaves.WithLabelValues(f.name, observability.ResultOK).Inc()
		return nil
	}
	f.log.Warn("analytics save failed, using local history", "sink", f.name, "id", rec.ID, "error", perr)

	if lerr := f.local.Save(ctx, rec); lerr != nil {
		observability.AnalyticsSaves.WithLabelValues(f.name, observability.ResultError).Inc()
		return fmt.Errorf("analytics save: primary: %v; local: %w", perr, lerr)
	}
	observability.AnalyticsSaves.WithLabelValues(f.name, observability.ResultFallback).Inc()
	return nil
}

// Recent reads the primary and falls back to the local sink when it errors.
func (f *Fallback) Recent(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	recs, err := f.primary.Recent(ctx, limit)
	if err == nil {
		return recs, nil
	}
	f.log.Warn("analytics read failed, using local history", "sink", f.name, "error", err)
	return f.local.Recent(ctx, limit)
}
