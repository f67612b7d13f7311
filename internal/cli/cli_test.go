package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/finly-network/finly/internal/domain"
)

const snapshotYAML = `
cash_balance: 10000
salaries:
  - employee: Dev Team
    amount: 50000
    due_in_days: 10
fixed_bills:
  - type: AWS
    amount: 10000
    due_in_days: 10
receivables:
  - client: Client A
    email: a@example.com
    amount: 40000
    due_in_days: 10
  - client: Client B
    amount: 10000
    due_in_days: 10
preferences:
  dont_delay_salaries: true
  avoid_vendor_damage: false
`

// isolate points every store at a temp home and clears credentials so no
// test reaches a real service.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("FINLY_HOME", home)
	for _, k := range []string{"SMTP_EMAIL", "SMTP_PASSWORD", "OPENAI_API_KEY", "FINLY_REDIS_ADDR", "FINLY_POSTGRES_DSN", "FINLY_DECISION_MODE"} {
		t.Setenv(k, "")
	}
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ─── LoadSnapshot ───────────────────────────────────────────────────────────

func TestLoadSnapshot_YAML(t *testing.T) {
	snap, err := LoadSnapshot(writeFile(t, "snap.yaml", snapshotYAML))
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	want := domain.Snapshot{
		CashBalance: 10000,
		Salaries:    []domain.Salary{{Employee: "Dev Team", Amount: 50000, DueInDays: 10}},
		FixedBills:  []domain.Bill{{Type: "AWS", Amount: 10000, DueInDays: 10}},
		Receivables: []domain.ReceivableItem{
			{ClientID: "Client A", ContactAddress: "a@example.com", Amount: 40000, DueInDays: 10},
			{ClientID: "Client B", Amount: 10000, DueInDays: 10},
		},
		Preferences: &domain.Preferences{DontDelaySalaries: true},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSnapshot_JSON(t *testing.T) {
	path := writeFile(t, "snap.json", `{"cash_balance": 500, "fixed_bills": [{"type": "Rent", "amount": 300, "due_in_days": 2}]}`)
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if snap.CashBalance != 500 || len(snap.FixedBills) != 1 || snap.FixedBills[0].Type != "Rent" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
	_, err := LoadSnapshot(writeFile(t, "bad.json", `{"cash_balance": "lots"}`))
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("bad json: error = %v, want ErrInvalidRequest", err)
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestRunCommand_PrintsResponseAndRecords(t *testing.T) {
	isolate(t)
	path := writeFile(t, "snap.yaml", snapshotYAML)

	out, err := execute(t, "run", "-f", path, "--mode", "rules")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var resp domain.AnalysisResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if resp.Decision.Strategy != domain.StrategyCollect {
		t.Errorf("strategy = %s, want COLLECT_RECEIVABLE", resp.Decision.Strategy)
	}

	out, err = execute(t, "ledger", "list", "--json=false")
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	if !strings.Contains(out, "BATCH_PROCESSED") || !strings.Contains(out, "Client A, Client B") {
		t.Errorf("ledger list output:\n%s", out)
	}

	out, err = execute(t, "ledger", "profile", "Client A")
	if err != nil {
		t.Fatalf("ledger profile: %v", err)
	}
	var p domain.ClientTrustProfile
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decode profile: %v\n%s", err, out)
	}
	if p.ClientID != "Client A" || p.Attempts != 1 {
		t.Errorf("profile = %+v, want one attempt for Client A", p)
	}
}

func TestRunCommand_InvalidMode(t *testing.T) {
	isolate(t)
	path := writeFile(t, "snap.yaml", snapshotYAML)
	if _, err := execute(t, "run", "-f", path, "--mode", "guess"); err == nil {
		t.Error("expected invalid mode error")
	}
}

func TestLedgerList_Empty(t *testing.T) {
	isolate(t)
	out, err := execute(t, "ledger", "list", "--json=false")
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	if !strings.Contains(out, "Ledger is empty.") {
		t.Errorf("output = %q", out)
	}
}
