package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/logging"
)

// Proposal sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// ─── Parsing ────────────────────────────────────────────────────────────────

type wireProposal struct {
	Strategy        string          `json:"strategy"`
	Target          json.RawMessage `json:"target"`
	Rationale       string          `json:"rationale"`
	AmountGoal      *float64        `json:"amount_goal"`
	ExecutionParams struct {
		Tone    string `json:"tone"`
		Channel string `json:"channel"`
	} `json:"execution_params"`
}

// ParseProposal decodes a generated proposal. The target may be a single
// name, a list, or absent. Any structural problem, including an unknown
// strategy, is reported as domain.ErrMalformedProposal.
func ParseProposal(raw string) (domain.Decision, error) {
	body, err := extractObject(raw)
	if err != nil {
		return domain.Decision{}, err
	}

	var w wireProposal
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", domain.ErrMalformedProposal, err)
	}

	strategy := domain.Strategy(strings.ToUpper(strings.TrimSpace(w.Strategy)))
	if !strategy.Valid() {
		return domain.Decision{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrMalformedProposal, w.Strategy)
	}

	targets, err := parseTargets(w.Target)
	if err != nil {
		return domain.Decision{}, err
	}

	d := domain.Decision{
		Strategy:  strategy,
		Targets:   targets,
		Rationale: w.Rationale,
		ExecutionParams: domain.ExecutionParams{
			Tone:    domain.Tone(strings.ToUpper(w.ExecutionParams.Tone)),
			Channel: domain.Channel(strings.ToUpper(w.ExecutionParams.Channel)),
		},
		Source: SourceLLM,
	}
	if w.AmountGoal != nil {
		if *w.AmountGoal < 0 || math.IsNaN(*w.AmountGoal) || math.IsInf(*w.AmountGoal, 0) {
			return domain.Decision{}, fmt.Errorf("%w: amount_goal %v", domain.ErrMalformedProposal, *w.AmountGoal)
		}
		d.AmountGoal = int64(math.Round(*w.AmountGoal))
	}
	if d.ExecutionParams.Tone == "" {
		d.ExecutionParams.Tone = domain.ToneNone
	}
	return d, nil
}

// FallbackProposal is the conservative decision used whenever a proposal
// cannot be obtained: alert the founder, addressed to the admin placeholder.
func FallbackProposal(snap domain.Snapshot, reason string) domain.Decision {
	var amount int64
	if len(snap.FixedBills) > 0 {
		amount = snap.FixedBills[0].Amount
	}
	if reason == "" {
		reason = "proposal unavailable"
	}
	return domain.Decision{
		Strategy:        domain.StrategyAlert,
		Targets:         []string{"Admin"},
		Rationale:       "Automated proposal failed (" + reason + "); escalating to the founder.",
		AmountGoal:      amount,
		ExecutionParams: domain.ExecutionParams{Tone: domain.ToneUrgent, Channel: domain.ChannelEmail},
		Source:          SourceFallback,
	}
}

// extractObject trims code fences and surrounding prose from generated
// text and returns the outermost JSON object.
func extractObject(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in output", domain.ErrMalformedProposal)
	}
	return []byte(s[start : end+1]), nil
}

func parseTargets(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if IsNoTarget(single) {
			return []string{}, nil
		}
		return []string{strings.TrimSpace(single)}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: target must be a string or a list of strings", domain.ErrMalformedProposal)
	}
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, strings.TrimSpace(t))
	}
	return out, nil
}

// IsNoTarget reports whether a lone target string means "nobody".
func IsNoTarget(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "None" || s == "N/A"
}

// ─── Generated Proposals ────────────────────────────────────────────────────

// ProposalInput is the context handed to the generator.
type ProposalInput struct {
	Snapshot  domain.Snapshot
	SubGoal   domain.SubGoal
	Metrics   domain.FinancialMetrics
	Profiles  map[string]domain.ClientTrustProfile
	Reference *domain.Decision // rule-derived proposal, shown as a hint
}

// Proposer asks the text generator for a proposal.
type Proposer struct {
	gen domain.TextGenerator
	log *slog.Logger
}

// NewProposer creates a proposer backed by gen.
func NewProposer(gen domain.TextGenerator) *Proposer {
	return &Proposer{gen: gen, log: logging.New("proposer")}
}

// Propose always returns a usable decision. When generation or parsing
// fails the returned decision is FallbackProposal and err says why.
func (p *Proposer) Propose(ctx context.Context, in ProposalInput) (domain.Decision, error) {
	raw, err := p.gen.Generate(ctx, BuildPrompt(in))
	if err != nil {
		p.log.Warn("proposal generation failed, using fallback", "error", err)
		return FallbackProposal(in.Snapshot, "generation failed"), fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	d, err := ParseProposal(raw)
	if err != nil {
		p.log.Warn("malformed proposal, using fallback", "error", err)
		return FallbackProposal(in.Snapshot, "invalid structured output"), err
	}
	return d, nil
}

// BuildPrompt renders the decision prompt.
func BuildPrompt(in ProposalInput) string {
	var b strings.Builder
	b.WriteString("You are the treasury strategist for a small company. Pick ONE action that best achieves the sub-goal.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Walk obligations (bills and salaries) in order of due date.\n")
	b.WriteString("- Pool every receivable due on or before the obligation's due date. A receivable already pooled for an earlier obligation cannot be reused.\n")
	b.WriteString("- If pooled receivables cover the obligation, COLLECT_RECEIVABLE from every contributing client with amount_goal = pooled total.\n")
	b.WriteString("- If pooled receivables plus cash cover it, COLLECT_RECEIVABLE when anything was pooled, otherwise MAINTAIN_STATUS_QUO.\n")
	b.WriteString("- Otherwise DELAY_VENDOR_PAYMENT for bills due in more than 2 days, with amount_goal = shortfall. Salaries are never delayed; escalate with ALERT_FOUNDER.\n")
	b.WriteString("- Do not remind a client contacted in the last 24 hours.\n")
	b.WriteString("- Tier 1 clients get a POLITE tone, tier 2 FIRM, tier 3 means ALERT_FOUNDER and no client email.\n\n")

	fmt.Fprintf(&b, "Cash balance: %d\n", in.Snapshot.CashBalance)
	fmt.Fprintf(&b, "Sub-goal: %s\n", mustJSON(in.SubGoal))
	fmt.Fprintf(&b, "Financial metrics: %s\n", mustJSON(in.Metrics))
	fmt.Fprintf(&b, "Obligations: %s\n", mustJSON(in.Snapshot.Obligations()))
	fmt.Fprintf(&b, "Receivables: %s\n", mustJSON(in.Snapshot.Receivables))
	fmt.Fprintf(&b, "Preferences: %s\n", mustJSON(in.Snapshot.EffectivePreferences()))

	b.WriteString("Client history:\n")
	seen := make(map[string]bool)
	for _, r := range in.Snapshot.Receivables {
		if seen[r.ClientID] {
			continue
		}
		seen[r.ClientID] = true
		prof := in.Profiles[r.ClientID]
		last := prof.LastContactedAt
		if last == "" {
			last = "never"
		}
		fmt.Fprintf(&b, "- %s: tier %d, %d consecutive failures, last contacted %s\n",
			r.ClientID, max(prof.Tier, 1), prof.ConsecutiveFailures, last)
	}
	if in.Reference != nil {
		fmt.Fprintf(&b, "Rule-based reference plan: %s\n", mustJSON(in.Reference))
	}

	b.WriteString("\nReturn only JSON of the form:\n")
	b.WriteString(`{"strategy": "COLLECT_RECEIVABLE|PARTIAL_COLLECTION|DELAY_VENDOR_PAYMENT|MAINTAIN_STATUS_QUO|ALERT_FOUNDER", "target": ["name"] or "name" or "None", "rationale": "...", "amount_goal": 0, "execution_params": {"tone": "POLITE|FIRM|URGENT|NONE", "channel": "EMAIL|SLACK|NONE"}}`)
	b.WriteString("\n")
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
