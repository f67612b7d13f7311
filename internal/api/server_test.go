package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/finly-network/finly/internal/app/cycle"
	"github.com/finly-network/finly/internal/app/dispatch"
	"github.com/finly-network/finly/internal/app/escalation"
	"github.com/finly-network/finly/internal/app/planner"
	"github.com/finly-network/finly/internal/app/risk"
	"github.com/finly-network/finly/internal/app/trust"
	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/analytics"
	"github.com/finly-network/finly/internal/infra/ledger"
	"github.com/finly-network/finly/internal/infra/observability"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

type simulatedDeliverer struct{}

func (simulatedDeliverer) Deliver(_ context.Context, msg domain.Message) domain.DeliveryResult {
	return domain.DeliveryResult{Status: domain.StatusSimulated, To: msg.To, Amount: msg.Amount}
}

type testServer struct {
	handler http.Handler
	runner  *cycle.Runner
	ledger  *ledger.Memory
}

func setupServer(t *testing.T, records ...domain.LedgerRecord) *testServer {
	t.Helper()
	mem := ledger.NewMemory(records...)
	resolver := trust.NewResolver(trust.DefaultResolverConfig())
	history := analytics.NewFile(filepath.Join(t.TempDir(), "history.json"))
	tracer := observability.NewTracer(observability.DefaultTracerConfig())

	runner := cycle.New(cycle.DefaultConfig(), cycle.Deps{
		Ledger:     mem,
		Resolver:   resolver,
		Analyzer:   risk.NewAnalyzer(nil),
		Planner:    planner.New(resolver),
		Enforcer:   escalation.NewEnforcer(),
		Dispatcher: dispatch.New(dispatch.DefaultConfig(), dispatch.NewDrafter(nil), simulatedDeliverer{}),
		Recorder:   dispatch.NewRecorder(mem, resolver),
		Analytics:  history,
		Tracer:     tracer,
	})
	t.Cleanup(runner.Wait)

	srv := NewServer(runner, mem, history, tracer)
	srv.EnableMetrics()
	return &testServer{handler: srv.Handler(), runner: runner, ledger: mem}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

const exampleBody = `{
  "cash_balance": 10000,
  "salaries": [{"employee": "Dev Team", "amount": 50000, "due_in_days": 10}],
  "fixed_bills": [{"type": "AWS", "amount": 10000, "due_in_days": 10}],
  "receivables": [
    {"client": "Client A", "email": "a@example.com", "amount": 40000, "due_in_days": 10},
    {"client": "Client B", "email": "b@example.com", "amount": 10000, "due_in_days": 10}
  ]
}`

// ─── Readiness ──────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	for _, path := range []string{"/", "/health"} {
		w := ts.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["status"] != "active" || resp["system"] != "FinLy Agentic Core" {
			t.Errorf("GET %s = %v", path, resp)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

// ─── Run analysis ───────────────────────────────────────────────────────────

func TestRunAnalysis(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodPost, "/run-analysis", exampleBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"risk_analysis", "sub_goal", "decision", "action_log", "memory_updates", "financial_metrics", "plan"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}

	var dec domain.Decision
	json.Unmarshal(resp["decision"], &dec)
	if dec.Strategy != domain.StrategyCollect {
		t.Errorf("strategy = %s, want COLLECT_RECEIVABLE", dec.Strategy)
	}

	var plan planner.Plan
	json.Unmarshal(resp["plan"], &plan)
	if len(plan.Obligations) != 2 || len(plan.Escalations) != 1 {
		t.Errorf("plan = %d obligations, %d escalations; want 2 and 1", len(plan.Obligations), len(plan.Escalations))
	}

	recs, _ := ts.ledger.ReadAll(context.Background())
	if len(recs) != 1 {
		t.Errorf("ledger records = %d, want 1", len(recs))
	}
}

func TestRunAnalysis_InvalidRequest(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"cash_balance": `},
		{"negative amount", `{"cash_balance": 0, "fixed_bills": [{"type": "AWS", "amount": -1, "due_in_days": 1}]}`},
		{"missing client", `{"cash_balance": 0, "receivables": [{"client": "", "amount": 10, "due_in_days": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/run-analysis", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var resp map[string]map[string]string
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp["error"]["message"] == "" {
				t.Errorf("missing error message: %s", w.Body.String())
			}
		})
	}

	recs, _ := ts.ledger.ReadAll(context.Background())
	if len(recs) != 0 {
		t.Errorf("invalid requests wrote %d ledger records", len(recs))
	}
}

// ─── Ledger & profiles ──────────────────────────────────────────────────────

func TestMemory_NewestFirst(t *testing.T) {
	now := time.Now().UTC()
	ts := setupServer(t,
		domain.LedgerRecord{Timestamp: now.Add(-2 * time.Hour).Format(domain.TimestampLayout), BatchID: "old", Clients: []string{"A"}, OutcomeStatus: domain.StatusPaid},
		domain.LedgerRecord{Timestamp: now.Add(-time.Hour).Format(domain.TimestampLayout), BatchID: "new", Clients: []string{"A"}, OutcomeStatus: domain.StatusFailed},
	)

	w := ts.do(t, http.MethodGet, "/api/memory", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var recs []domain.LedgerRecord
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 || recs[0].BatchID != "new" {
		t.Errorf("records = %+v, want newest first", recs)
	}
}

func TestMemory_EmptyIsArray(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, http.MethodGet, "/api/memory", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestClientProfile(t *testing.T) {
	rec := func(ago time.Duration, status string) domain.LedgerRecord {
		return domain.LedgerRecord{
			Timestamp:     time.Now().UTC().Add(-ago).Format(domain.TimestampLayout),
			Clients:       []string{"Client A"},
			OutcomeStatus: status,
		}
	}
	ts := setupServer(t, rec(72*time.Hour, domain.StatusFailed), rec(48*time.Hour, domain.StatusFailed))

	w := ts.do(t, http.MethodGet, "/api/clients/Client%20A/profile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p domain.ClientTrustProfile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Tier != 3 {
		t.Errorf("tier = %d, want 3", p.Tier)
	}
}

// ─── Analysis history & traces ──────────────────────────────────────────────

func TestAnalysisResults(t *testing.T) {
	ts := setupServer(t)

	w := ts.do(t, http.MethodGet, "/api/analysis-results/latest", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("latest before any run: expected 404, got %d", w.Code)
	}

	if w := ts.do(t, http.MethodPost, "/run-analysis", exampleBody); w.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d", w.Code)
	}
	ts.runner.Wait()

	w = ts.do(t, http.MethodGet, "/api/analysis-results", "")
	var recs []domain.AnalysisRecord
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("analysis results = %d, want 1", len(recs))
	}

	w = ts.do(t, http.MethodGet, "/api/analysis-results/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest: expected 200, got %d", w.Code)
	}
	var latest domain.AnalysisRecord
	json.Unmarshal(w.Body.Bytes(), &latest)
	if latest.ID != recs[0].ID {
		t.Errorf("latest id = %q, want %q", latest.ID, recs[0].ID)
	}
}

func TestTraces(t *testing.T) {
	ts := setupServer(t)
	ts.do(t, http.MethodPost, "/run-analysis", exampleBody)

	w := ts.do(t, http.MethodGet, "/api/traces?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var spans []observability.Span
	if err := json.Unmarshal(w.Body.Bytes(), &spans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(spans) != 2 {
		t.Errorf("spans = %d, want 2", len(spans))
	}

	if w := ts.do(t, http.MethodGet, "/api/traces?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := setupServer(t)
	w := ts.do(t, http.MethodOptions, "/run-analysis", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
