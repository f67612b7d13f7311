// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring; it depends on nothing.
package domain

import (
	"fmt"
	"strings"
)

// ─── Obligations & Receivables ──────────────────────────────────────────────

// ObligationKind distinguishes salaries (never delayable) from bills.
type ObligationKind string

const (
	ObligationSalary ObligationKind = "SALARY"
	ObligationBill   ObligationKind = "BILL"
)

// ObligationItem is a scheduled outflow. Immutable per planning cycle.
type ObligationItem struct {
	Kind       ObligationKind `json:"kind"`
	Identifier string         `json:"identifier"`
	Amount     int64          `json:"amount"`
	DueInDays  int            `json:"due_in_days"`
}

// Delayable reports whether the obligation may legally be pushed back.
// Salaries never are; bills only when more than two days remain.
func (o ObligationItem) Delayable() bool {
	return o.Kind == ObligationBill && o.DueInDays > 2
}

// ReceivableItem is an expected inflow from a client.
type ReceivableItem struct {
	ClientID       string `json:"client" yaml:"client"`
	ContactAddress string `json:"email" yaml:"email"`
	Amount         int64  `json:"amount" yaml:"amount"`
	DueInDays      int    `json:"due_in_days" yaml:"due_in_days"`
}

// Salary is the inbound wire shape of a salary obligation.
type Salary struct {
	Employee  string `json:"employee" yaml:"employee"`
	Amount    int64  `json:"amount" yaml:"amount"`
	DueInDays int    `json:"due_in_days" yaml:"due_in_days"`
}

// Bill is the inbound wire shape of a fixed bill.
type Bill struct {
	Type      string `json:"type" yaml:"type"`
	Amount    int64  `json:"amount" yaml:"amount"`
	DueInDays int    `json:"due_in_days" yaml:"due_in_days"`
}

// Preferences are advisory operator flags. Salaries stay non-delayable
// whatever DontDelaySalaries says.
type Preferences struct {
	DontDelaySalaries bool `json:"dont_delay_salaries" yaml:"dont_delay_salaries"`
	AvoidVendorDamage bool `json:"avoid_vendor_damage" yaml:"avoid_vendor_damage"`
}

// DefaultPreferences mirrors what the analysis endpoint assumes when the
// caller sends none.
func DefaultPreferences() Preferences {
	return Preferences{DontDelaySalaries: true, AvoidVendorDamage: true}
}

// Snapshot is one analysis request: the financial state for a single cycle.
type Snapshot struct {
	CashBalance int64            `json:"cash_balance" yaml:"cash_balance"`
	Salaries    []Salary         `json:"salaries" yaml:"salaries"`
	FixedBills  []Bill           `json:"fixed_bills" yaml:"fixed_bills"`
	Receivables []ReceivableItem `json:"receivables" yaml:"receivables"`
	Preferences *Preferences     `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// Obligations merges bills then salaries, preserving insertion order.
func (s Snapshot) Obligations() []ObligationItem {
	out := make([]ObligationItem, 0, len(s.FixedBills)+len(s.Salaries))
	for _, b := range s.FixedBills {
		out = append(out, ObligationItem{Kind: ObligationBill, Identifier: b.Type, Amount: b.Amount, DueInDays: b.DueInDays})
	}
	for _, sal := range s.Salaries {
		out = append(out, ObligationItem{Kind: ObligationSalary, Identifier: sal.Employee, Amount: sal.Amount, DueInDays: sal.DueInDays})
	}
	return out
}

// EffectivePreferences returns the caller's preferences or the defaults.
func (s Snapshot) EffectivePreferences() Preferences {
	if s.Preferences == nil {
		return DefaultPreferences()
	}
	return *s.Preferences
}

// Validate checks structural constraints. Errors wrap ErrInvalidRequest.
func (s Snapshot) Validate() error {
	for i, sal := range s.Salaries {
		if strings.TrimSpace(sal.Employee) == "" {
			return fmt.Errorf("%w: salaries[%d].employee is required", ErrInvalidRequest, i)
		}
		if sal.Amount < 0 || sal.DueInDays < 0 {
			return fmt.Errorf("%w: salaries[%d] amount and due_in_days must be non-negative", ErrInvalidRequest, i)
		}
	}
	for i, b := range s.FixedBills {
		if strings.TrimSpace(b.Type) == "" {
			return fmt.Errorf("%w: fixed_bills[%d].type is required", ErrInvalidRequest, i)
		}
		if b.Amount < 0 || b.DueInDays < 0 {
			return fmt.Errorf("%w: fixed_bills[%d] amount and due_in_days must be non-negative", ErrInvalidRequest, i)
		}
	}
	for i, r := range s.Receivables {
		if strings.TrimSpace(r.ClientID) == "" {
			return fmt.Errorf("%w: receivables[%d].client is required", ErrInvalidRequest, i)
		}
		if r.Amount < 0 || r.DueInDays < 0 {
			return fmt.Errorf("%w: receivables[%d] amount and due_in_days must be non-negative", ErrInvalidRequest, i)
		}
	}
	return nil
}

// ─── Decisions ──────────────────────────────────────────────────────────────

// Strategy is the action family chosen for a cycle.
type Strategy string

const (
	StrategyCollect   Strategy = "COLLECT_RECEIVABLE"
	StrategyPartial   Strategy = "PARTIAL_COLLECTION"
	StrategyDelay     Strategy = "DELAY_VENDOR_PAYMENT"
	StrategyStatusQuo Strategy = "MAINTAIN_STATUS_QUO"
	StrategyAlert     Strategy = "ALERT_FOUNDER"
)

// Strategies lists every strategy a proposal may name.
func Strategies() []Strategy {
	return []Strategy{StrategyCollect, StrategyPartial, StrategyDelay, StrategyStatusQuo, StrategyAlert}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	for _, known := range Strategies() {
		if s == known {
			return true
		}
	}
	return false
}

// Tone changes the voice of a drafted message, never its facts.
type Tone string

const (
	TonePolite Tone = "POLITE"
	ToneFirm   Tone = "FIRM"
	ToneUrgent Tone = "URGENT"
	ToneNone   Tone = "NONE"
)

// Channel is the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSlack Channel = "SLACK"
	ChannelNone  Channel = "NONE"
)

// ExecutionParams tunes how a strategy is carried out.
type ExecutionParams struct {
	Tone    Tone    `json:"tone"`
	Channel Channel `json:"channel,omitempty"`
}

// Decision is a proposal or a final, enforced decision.
type Decision struct {
	Strategy        Strategy         `json:"strategy"`
	Targets         []string         `json:"target"`
	Rationale       string           `json:"rationale"`
	AmountGoal      int64            `json:"amount_goal"`
	ExecutionParams ExecutionParams  `json:"execution_params"`
	Allocations     map[string]int64 `json:"allocations,omitempty"` // target → amount to request
	Suppressed      []string         `json:"suppressed,omitempty"`  // clients held back by the grace period
	Obligation      string           `json:"obligation,omitempty"`
	Source          string           `json:"source,omitempty"`
}

// Placeholder target names that never identify a real client.
var placeholderTargets = map[string]bool{
	"":      true,
	"None":  true,
	"Admin": true,
	"N/A":   true,
}

// IsPlaceholder reports whether target is empty or an administrative stand-in.
func IsPlaceholder(target string) bool {
	return placeholderTargets[strings.TrimSpace(target)]
}

// ValidTargets returns the decision's targets minus placeholders, in order,
// without duplicates.
func (d Decision) ValidTargets() []string {
	seen := make(map[string]bool, len(d.Targets))
	out := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		if IsPlaceholder(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ─── Actions ────────────────────────────────────────────────────────────────

// Action names recorded in the ledger.
const (
	ActionReminderMulti    = "EMAIL_PAYMENT_REMINDER_MULTI"
	ActionExtensionRequest = "PAYMENT_EXTENSION_REQUEST"
	ActionFounderAlerted   = "FOUNDER_ALERTED"
	ActionNone             = "NO_ACTION"
)

// Outcome statuses.
const (
	StatusPaid      = "PAID"
	StatusOptimal   = "OPTIMAL"
	StatusIgnored   = "IGNORED"
	StatusFailed    = "FAILED"
	StatusSent      = "SENT"
	StatusSimulated = "SENT (SIMULATED)"
	StatusFallback  = "SENT (FALLBACK)"
	StatusSkipped   = "SKIPPED"
	StatusBatch     = "BATCH_PROCESSED"
	StatusUnknown   = "UNKNOWN"
)

// Message is a drafted outbound message.
type Message struct {
	To           string `json:"to"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
	Tone         Tone   `json:"tone"`
	Recipient    string `json:"recipient"` // display name used by fallback templates
	Amount       int64  `json:"amount"`
	DeadlineDays int    `json:"deadline_days"`
}

// ActionLog is the dispatch stage's output and the ledger record's details.
type ActionLog struct {
	ActionTaken      string          `json:"action_taken"`
	TargetsProcessed []TargetResult  `json:"targets_processed,omitempty"`
	Target           string          `json:"target,omitempty"`
	RecipientEmail   string          `json:"recipient_email,omitempty"`
	ToneUsed         Tone            `json:"tone_used,omitempty"`
	ContentDraft     string          `json:"content_draft,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Result           *DeliveryResult `json:"result,omitempty"`
}

// TargetResult is one per-target sub-result of a batch action.
type TargetResult struct {
	Target     string         `json:"target"`
	Address    string         `json:"email"`
	Amount     int64          `json:"amount"`
	Result     DeliveryResult `json:"result"`
	DraftError string         `json:"draft_error,omitempty"`
}

// ─── Risk & Analysis ────────────────────────────────────────────────────────

// Liquidity statuses.
const (
	LiquiditySurplus = "SURPLUS"
	LiquidityDeficit = "DEFICIT"
)

// FinancialMetrics are exact aggregates computed before any reasoning.
type FinancialMetrics struct {
	TotalInflow      int64   `json:"total_inflow"`
	TotalOutflow     int64   `json:"total_outflow"`
	ProjectedBalance int64   `json:"projected_balance"`
	LiquidityStatus  string  `json:"liquidity_status"`
	NetPosition      int64   `json:"net_position"`
	BurnRateCoverage float64 `json:"burn_rate_coverage"`
}

// Sub-goal intents.
const (
	IntentIncreaseInflow    = "INCREASE_INFLOW"
	IntentDelayOutflow      = "DELAY_OUTFLOW"
	IntentMaintainLiquidity = "MAINTAIN_LIQUIDITY"
	IntentCoverDeficit      = "COVER_DEFICIT"
)

// SubGoal is the concrete target the decision stage works toward.
type SubGoal struct {
	Intent         string `json:"intent"`
	RequiredAmount int64  `json:"required_amount"`
	DeadlineDays   int    `json:"deadline_days"`
	Reason         string `json:"reason"`
}

// Scenario is one simulated cash outcome.
type Scenario struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	NetCash     float64 `json:"net_cash"`
}

// RiskAnalysis is the risk stage's assessment.
type RiskAnalysis struct {
	RiskScore      float64    `json:"risk_score"`
	CriticalWindow string     `json:"critical_window"`
	DominantRisk   string     `json:"dominant_risk"`
	Confidence     string     `json:"confidence"`
	SubGoal        SubGoal    `json:"sub_goal"`
	Scenarios      []Scenario `json:"scenarios,omitempty"`
	Source         string     `json:"source,omitempty"`
}

// AnalysisResponse is the outbound payload of one cycle.
type AnalysisResponse struct {
	RiskAnalysis     RiskAnalysis                  `json:"risk_analysis"`
	SubGoal          SubGoal                       `json:"sub_goal"`
	Decision         Decision                      `json:"decision"`
	ActionLog        ActionLog                     `json:"action_log"`
	Escalations      []ActionLog                   `json:"escalations,omitempty"` // founder alerts for other obligations
	MemoryUpdates    map[string]ClientTrustProfile `json:"memory_updates"`
	FinancialMetrics FinancialMetrics              `json:"financial_metrics"`
}
