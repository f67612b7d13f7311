package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/finly-network/finly/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(i int, status string, clients ...string) domain.LedgerRecord {
	return domain.LedgerRecord{
		Timestamp:     time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC).Format(domain.TimestampLayout),
		BatchID:       fmt.Sprintf("batch-%d", i),
		Clients:       clients,
		Strategy:      domain.StrategyCollect,
		ActionTaken:   domain.ActionReminderMulti,
		OutcomeStatus: status,
		Details: &domain.ActionLog{
			ActionTaken: domain.ActionReminderMulti,
			ToneUsed:    domain.TonePolite,
		},
	}
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func TestLedger_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var want []domain.LedgerRecord
	for i := 0; i < 12; i++ {
		rec := testRecord(i, domain.StatusSent, fmt.Sprintf("Client %d", i%3))
		if err := db.Append(ctx, rec); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
		want = append(want, rec)
	}

	got, err := db.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if n, _ := db.CountRecords(ctx); n != 12 {
		t.Errorf("CountRecords() = %d, want 12", n)
	}
}

func TestLedger_ReadAll_Empty(t *testing.T) {
	db := newTestDB(t)
	got, err := db.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ReadAll() = %v, want empty non-nil slice", got)
	}
}

func TestLedger_ReadForClient(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.Append(ctx, testRecord(0, domain.StatusFailed, "A"))
	db.Append(ctx, testRecord(1, domain.StatusBatch, "A", "B"))
	db.Append(ctx, testRecord(2, domain.StatusSent, "B"))

	got, err := db.ReadForClient(ctx, "A")
	if err != nil {
		t.Fatalf("ReadForClient() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records for A = %d, want 2", len(got))
	}
	if got[0].BatchID != "batch-0" || got[1].BatchID != "batch-1" {
		t.Errorf("order = %s, %s; want batch-0, batch-1", got[0].BatchID, got[1].BatchID)
	}
}

func TestLedger_LegacyTargetIndexed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := domain.LedgerRecord{Timestamp: "2025-06-01T12:00:00", Target: "Vendor", OutcomeStatus: domain.StatusIgnored}
	if err := db.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	got, _ := db.ReadForClient(ctx, "Vendor")
	if len(got) != 1 {
		t.Errorf("records for Vendor = %d, want 1", len(got))
	}
}

func TestLedger_ReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Append(ctx, testRecord(0, domain.StatusPaid, "A"))
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	got, _ := db.ReadAll(ctx)
	if len(got) != 1 || got[0].OutcomeStatus != domain.StatusPaid {
		t.Errorf("after reopen got %+v", got)
	}
}

func TestLedger_AppendAfterCloseWrapsPersistence(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	if err := db.Append(context.Background(), testRecord(0, domain.StatusSent, "A")); err == nil {
		t.Error("Append() on closed db should fail")
	}
}

// ─── Analytics ──────────────────────────────────────────────────────────────

func TestAnalytics_SaveAndRecent(t *testing.T) {
	db := newTestDB(t)
	a := db.Analytics()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := domain.AnalysisRecord{
			ID:        fmt.Sprintf("a-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Response: domain.AnalysisResponse{
				Decision:         domain.Decision{Strategy: domain.StrategyCollect, Targets: []string{"A"}},
				FinancialMetrics: domain.FinancialMetrics{TotalInflow: int64(i)},
			},
		}
		if err := a.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%d) error: %v", i, err)
		}
	}

	got, err := a.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent(3) = %d records, want 3", len(got))
	}
	if got[0].ID != "a-4" || got[2].ID != "a-2" {
		t.Errorf("order = %s..%s, want a-4..a-2", got[0].ID, got[2].ID)
	}
	if !got[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}
	if got[0].Response.FinancialMetrics.TotalInflow != 4 {
		t.Errorf("response not restored: %+v", got[0].Response.FinancialMetrics)
	}
}

func TestAnalytics_SaveReplacesSameID(t *testing.T) {
	a := newTestDB(t).Analytics()
	ctx := context.Background()
	now := time.Now()

	a.Save(ctx, domain.AnalysisRecord{ID: "x", CreatedAt: now})
	a.Save(ctx, domain.AnalysisRecord{ID: "x", CreatedAt: now, Response: domain.AnalysisResponse{
		Decision: domain.Decision{Strategy: domain.StrategyAlert},
	}})

	got, _ := a.Recent(ctx, 10)
	if len(got) != 1 || got[0].Response.Decision.Strategy != domain.StrategyAlert {
		t.Errorf("got %+v, want one ALERT record", got)
	}
}
