package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/logging"
)

// Analysis sources.
const (
	SourceLLM           = "llm"
	SourceDeterministic = "deterministic"
)

// DeficitDeadlineDays is the sub-goal deadline used when cash runs short.
const DeficitDeadlineDays = 10

// Analyzer produces the risk assessment. With no generator, or when the
// generator fails, it falls back to a deterministic reading of the metrics.
type Analyzer struct {
	gen domain.TextGenerator
	log *slog.Logger
}

// NewAnalyzer creates an analyzer. gen may be nil.
func NewAnalyzer(gen domain.TextGenerator) *Analyzer {
	return &Analyzer{gen: gen, log: logging.New("risk")}
}

// Analyze assesses the snapshot. It never fails; err is non-nil only to
// report that the deterministic fallback was used because generation or
// parsing failed.
func (a *Analyzer) Analyze(ctx context.Context, s domain.Snapshot, m domain.FinancialMetrics, profiles map[string]domain.ClientTrustProfile) (domain.RiskAnalysis, error) {
	scenarios := Simulate(s, profiles)

	if a.gen == nil {
		ra := Deterministic(s, m)
		ra.Scenarios = scenarios
		return ra, nil
	}

	raw, err := a.gen.Generate(ctx, buildPrompt(s, m, scenarios))
	if err != nil {
		a.log.Warn("risk generation failed, using deterministic analysis", "error", err)
		ra := Deterministic(s, m)
		ra.Scenarios = scenarios
		return ra, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	ra, err := ParseAnalysis(raw)
	if err != nil {
		a.log.Warn("unparseable risk analysis, using deterministic analysis", "error", err)
		ra = Deterministic(s, m)
		ra.Scenarios = scenarios
		return ra, err
	}
	ra.Scenarios = scenarios
	ra.Source = SourceLLM
	return ra, nil
}

// Deterministic builds the analysis from metrics alone.
func Deterministic(s domain.Snapshot, m domain.FinancialMetrics) domain.RiskAnalysis {
	ra := domain.RiskAnalysis{
		CriticalWindow: criticalWindow(s.Receivables),
		Confidence:     "MEDIUM",
		Source:         SourceDeterministic,
	}

	if m.LiquidityStatus == domain.LiquiditySurplus {
		ra.RiskScore = 1
		ra.DominantRisk = "LOW"
		ra.SubGoal = domain.SubGoal{
			Intent: domain.IntentMaintainLiquidity,
			Reason: fmt.Sprintf("Cash %d covers outflows. Projected balance: %d.", s.CashBalance, m.ProjectedBalance),
		}
		return ra
	}

	ra.RiskScore = 5
	if m.ProjectedBalance < 0 {
		ra.RiskScore = 8
	}
	need := m.ProjectedBalance
	if need < 0 {
		need = -need
	}
	ra.DominantRisk = "LIQUIDITY_DEFICIT"
	ra.SubGoal = domain.SubGoal{
		Intent:         domain.IntentCoverDeficit,
		RequiredAmount: need,
		DeadlineDays:   DeficitDeadlineDays,
		Reason:         fmt.Sprintf("Cash is insufficient. Projected balance: %d. Need to raise %d.", m.ProjectedBalance, need),
	}
	return ra
}

func criticalWindow(recvs []domain.ReceivableItem) string {
	if len(recvs) == 0 {
		return "N/A"
	}
	soonest := recvs[0].DueInDays
	for _, r := range recvs[1:] {
		soonest = min(soonest, r.DueInDays)
	}
	return fmt.Sprintf("%d days", soonest)
}

// ─── Parsing ────────────────────────────────────────────────────────────────

type wireAnalysis struct {
	RiskScore      float64 `json:"risk_score"`
	CriticalWindow any     `json:"critical_window"`
	DominantRisk   string  `json:"dominant_risk"`
	Confidence     string  `json:"confidence"`
	SubGoal        *struct {
		Intent         string  `json:"intent"`
		RequiredAmount float64 `json:"required_amount"`
		DeadlineDays   float64 `json:"deadline_days"`
		Reason         string  `json:"reason"`
	} `json:"sub_goal"`
}

// ParseAnalysis decodes a generated risk analysis. A missing sub-goal is
// a parse failure since the decision stage cannot proceed without it.
func ParseAnalysis(raw string) (domain.RiskAnalysis, error) {
	s := strings.TrimSpace(raw)
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return domain.RiskAnalysis{}, fmt.Errorf("%w: no JSON object in risk output", domain.ErrMalformedProposal)
	}

	var w wireAnalysis
	if err := json.Unmarshal([]byte(s[start:end+1]), &w); err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("%w: %v", domain.ErrMalformedProposal, err)
	}
	if w.SubGoal == nil || w.SubGoal.Intent == "" {
		return domain.RiskAnalysis{}, fmt.Errorf("%w: risk output has no sub_goal", domain.ErrMalformedProposal)
	}

	window := ""
	switch v := w.CriticalWindow.(type) {
	case string:
		window = v
	case float64:
		window = fmt.Sprintf("%d days", int(v))
	}

	return domain.RiskAnalysis{
		RiskScore:      w.RiskScore,
		CriticalWindow: window,
		DominantRisk:   w.DominantRisk,
		Confidence:     w.Confidence,
		SubGoal: domain.SubGoal{
			Intent:         strings.ToUpper(w.SubGoal.Intent),
			RequiredAmount: int64(math.Round(math.Abs(w.SubGoal.RequiredAmount))),
			DeadlineDays:   int(w.SubGoal.DeadlineDays),
			Reason:         w.SubGoal.Reason,
		},
	}, nil
}

func buildPrompt(s domain.Snapshot, m domain.FinancialMetrics, scenarios []domain.Scenario) string {
	metrics, _ := json.Marshal(m)
	outflows, _ := json.Marshal(s.Obligations())
	inflows, _ := json.Marshal(s.Receivables)
	sims, _ := json.Marshal(scenarios)

	var b strings.Builder
	b.WriteString("You are a financial risk analyst. Assess the company's cash position using only the numbers below and return only JSON.\n\n")
	fmt.Fprintf(&b, "Financial metrics (authoritative): %s\n", metrics)
	fmt.Fprintf(&b, "Cash balance: %d\n", s.CashBalance)
	fmt.Fprintf(&b, "Upcoming outflows: %s\n", outflows)
	fmt.Fprintf(&b, "Expected inflows: %s\n", inflows)
	fmt.Fprintf(&b, "Scenarios: %s\n\n", sims)
	b.WriteString("Rules:\n")
	b.WriteString("- SURPLUS liquidity means low risk and the sub-goal intent is MAINTAIN_LIQUIDITY.\n")
	b.WriteString("- DEFICIT liquidity means high risk and the sub-goal intent is COVER_DEFICIT with required_amount equal to the missing cash.\n")
	b.WriteString("- Say whether any receivable lands before the outflows it could cover.\n")
	b.WriteString("- Quote the exact figures; do not invent any.\n\n")
	b.WriteString(`Return: {"risk_score": number, "critical_window": string, "dominant_risk": string, "confidence": "HIGH|MEDIUM|LOW", "sub_goal": {"intent": "INCREASE_INFLOW|DELAY_OUTFLOW|MAINTAIN_LIQUIDITY|COVER_DEFICIT", "required_amount": number, "deadline_days": number, "reason": string}}`)
	b.WriteString("\n")
	return b.String()
}
