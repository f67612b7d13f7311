package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/logging"
)

// ProfileResolver derives trust profiles from ledger records.
type ProfileResolver interface {
	ResolveAll(ids []string, records []domain.LedgerRecord) map[string]domain.ClientTrustProfile
}

// Recorder appends one ledger record per dispatched cycle.
type Recorder struct {
	ledger   domain.Ledger
	resolver ProfileResolver
	log      *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRecorder creates a recorder.
func NewRecorder(ledger domain.Ledger, resolver ProfileResolver) *Recorder {
	return &Recorder{
		ledger:   ledger,
		resolver: resolver,
		log:      logging.New("recorder"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Record writes the outcome to the ledger and returns the refreshed
// profiles of the recorded clients. An outcome with no valid targets writes
// nothing and returns an empty map.
//
// Profiles are resolved against the history read before the append plus
// the new record, so they are returned even when the append fails; the
// error then wraps domain.ErrPersistence.
func (r *Recorder) Record(ctx context.Context, dec domain.Decision, out *Outcome) (map[string]domain.ClientTrustProfile, error) {
	if len(out.Targets) == 0 {
		return map[string]domain.ClientTrustProfile{}, nil
	}

	history, err := r.ledger.ReadAll(ctx)
	if err != nil {
		r.log.Warn("ledger unreadable before append", "error", err)
		history = nil
	}

	details := out.ActionLog
	rec := domain.LedgerRecord{
		Timestamp:     r.now().UTC().Format(domain.TimestampLayout),
		BatchID:       r.newID(),
		Clients:       append([]string(nil), out.Targets...),
		Strategy:      dec.Strategy,
		ActionTaken:   details.ActionTaken,
		OutcomeStatus: OutcomeStatus(details),
		Details:       &details,
	}

	appendErr := r.ledger.Append(ctx, rec)
	if appendErr != nil {
		r.log.Error("ledger append failed", "batch_id", rec.BatchID, "error", appendErr)
	} else {
		out.State = StateRecorded
		r.log.Info("outcome recorded", "batch_id", rec.BatchID, "clients", rec.Clients, "status", rec.OutcomeStatus)
	}

	updates := r.resolver.ResolveAll(out.Targets, append(history, rec))
	return updates, appendErr
}

// OutcomeStatus is the record-level status: BATCH_PROCESSED when there is
// more than one per-target result, else the single result's status.
func OutcomeStatus(log domain.ActionLog) string {
	switch n := len(log.TargetsProcessed); {
	case n > 1:
		return domain.StatusBatch
	case n == 1:
		if s := log.TargetsProcessed[0].Result.Status; s != "" {
			return s
		}
		return domain.StatusUnknown
	}
	if log.Result != nil && log.Result.Status != "" {
		return log.Result.Status
	}
	return domain.StatusUnknown
}
