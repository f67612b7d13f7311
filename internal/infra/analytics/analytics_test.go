package analytics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finly-network/finly/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func analysis(i int) domain.AnalysisRecord {
	return domain.AnalysisRecord{
		ID:        fmt.Sprintf("a-%d", i),
		CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		Response: domain.AnalysisResponse{
			Decision: domain.Decision{Strategy: domain.StrategyCollect, Targets: []string{"Client A"}, AmountGoal: int64(i * 100)},
		},
	}
}

func newTestFile(t *testing.T) *File {
	t.Helper()
	return NewFile(filepath.Join(t.TempDir(), "history.json"))
}

// failingSink refuses every call.
type failingSink struct{}

func (failingSink) Save(context.Context, domain.AnalysisRecord) error {
	return errors.New("connection refused")
}

func (failingSink) Recent(context.Context, int) ([]domain.AnalysisRecord, error) {
	return nil, errors.New("connection refused")
}

// ─── File Sink ──────────────────────────────────────────────────────────────

func TestFile_RecentNewestFirst(t *testing.T) {
	f := newTestFile(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := f.Save(ctx, analysis(i)); err != nil {
			t.Fatalf("Save(%d) error: %v", i, err)
		}
	}

	got, err := f.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent(3) = %d records, want 3", len(got))
	}
	for i, want := range []string{"a-4", "a-3", "a-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
	if got[0].Response.Decision.AmountGoal != 400 {
		t.Errorf("AmountGoal = %d, want 400", got[0].Response.Decision.AmountGoal)
	}
}

func TestFile_SaveReplacesSameID(t *testing.T) {
	f := newTestFile(t)
	ctx := context.Background()
	f.Save(ctx, analysis(1))
	updated := analysis(1)
	updated.Response.Decision.AmountGoal = 999
	f.Save(ctx, updated)

	got, _ := f.Recent(ctx, 0)
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].Response.Decision.AmountGoal != 999 {
		t.Errorf("AmountGoal = %d, want 999", got[0].Response.Decision.AmountGoal)
	}
}

func TestFile_CapacityTrimsOldest(t *testing.T) {
	f := newTestFile(t)
	f.Capacity = 3
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		f.Save(ctx, analysis(i))
	}
	got, _ := f.Recent(ctx, 10)
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[2].ID != "a-3" {
		t.Errorf("oldest kept = %s, want a-3", got[2].ID)
	}
}

func TestFile_CorruptHistoryStartsFresh(t *testing.T) {
	f := newTestFile(t)
	os.WriteFile(f.path, []byte("not json"), 0o644)

	got, err := f.Recent(context.Background(), 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("Recent() = %d, %v; want empty", len(got), err)
	}
	if err := f.Save(context.Background(), analysis(0)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, _ = f.Recent(context.Background(), 10)
	if len(got) != 1 {
		t.Errorf("records = %d, want 1", len(got))
	}
}

// ─── Fallback Sink ──────────────────────────────────────────────────────────

func TestFallback_UsesLocalWhenPrimaryDown(t *testing.T) {
	local := newTestFile(t)
	fb := NewFallback("postgres", failingSink{}, local)
	ctx := context.Background()

	if err := fb.Save(ctx, analysis(7)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := fb.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a-7" {
		t.Errorf("Recent() = %+v, want [a-7]", got)
	}
}

func TestFallback_PrimaryHealthy(t *testing.T) {
	primary, local := newTestFile(t), newTestFile(t)
	fb := NewFallback("file", primary, local)
	ctx := context.Background()

	fb.Save(ctx, analysis(1))
	if got, _ := local.Recent(ctx, 5); len(got) != 0 {
		t.Errorf("local records = %d, want 0", len(got))
	}
	if got, _ := primary.Recent(ctx, 5); len(got) != 1 {
		t.Errorf("primary records = %d, want 1", len(got))
	}
}

func TestFallback_BothFail(t *testing.T) {
	fb := NewFallback("postgres", failingSink{}, failingSink{})
	if err := fb.Save(context.Background(), analysis(1)); err == nil {
		t.Error("expected error when both sinks fail")
	}
}
