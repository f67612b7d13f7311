// Package planner implements the funding waterfall: obligations are walked
// in due-date order and each one is covered by pooling receivables that
// land in time, then by cash, and otherwise by delay or escalation.
//
// The planner is deterministic. Given the same snapshot and the same trust
// profiles it always returns the same plan, which is what makes a rule
// driven cycle safe to retry.
package planner

import (
	"fmt"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/dsa"
)

// SourceRules marks decisions produced by the waterfall.
const SourceRules = "rules"

// GraceChecker reports whether a client was contacted too recently to be
// contacted again. trust.Resolver satisfies it.
type GraceChecker interface {
	InGracePeriod(p domain.ClientTrustProfile) bool
}

// Input is everything one planning pass needs.
type Input struct {
	Snapshot domain.Snapshot
	Profiles map[string]domain.ClientTrustProfile
}

// ObligationPlan is the outcome for a single obligation.
type ObligationPlan struct {
	Obligation domain.ObligationItem `json:"obligation"`
	Pooled     int64                 `json:"pooled"`
	Case       string                `json:"case"`
	Decision   domain.Decision       `json:"decision"`
}

// Coverage cases.
const (
	CaseReceivables = "RECEIVABLES" // pooled alone covers the obligation
	CaseCombined    = "COMBINED"    // pooled plus cash covers it
	CaseDeficit     = "DEFICIT"
)

// Plan is the result of one planning pass. Escalations holds the founder
// alerts raised by obligations other than the one behind Proposal; they are
// sent alongside it.
type Plan struct {
	Obligations []ObligationPlan  `json:"obligations"`
	Proposal    domain.Decision   `json:"proposal"`
	Escalations []domain.Decision `json:"escalations"`
}

// escalationTier is the trust tier that forces a founder alert.
const escalationTier = 3

// Planner runs the waterfall.
type Planner struct {
	grace GraceChecker
}

// New creates a planner. A nil grace checker disables suppression.
func New(grace GraceChecker) *Planner {
	return &Planner{grace: grace}
}

// Plan walks every obligation in urgency order and returns one decision
// per obligation plus the system-level proposal.
func (p *Planner) Plan(in Input) Plan {
	snap := in.Snapshot
	allocated := make([]bool, len(snap.Receivables))

	plan := Plan{Escalations: []domain.Decision{}}
	for _, ob := range OrderObligations(snap.Obligations()) {
		op := p.planObligation(ob, snap, allocated)
		op.Decision = p.ApplyGrace(op.Decision, in.Profiles)
		plan.Obligations = append(plan.Obligations, op)
	}

	picked := selectIndex(plan.Obligations)
	plan.Proposal = SelectProposal(plan.Obligations)
	for i, op := range plan.Obligations {
		if i != picked && op.Decision.Strategy == domain.StrategyAlert {
			plan.Escalations = append(plan.Escalations, op.Decision)
		}
	}
	return plan
}

// OrderObligations sorts by ascending due date; ties keep insertion order.
func OrderObligations(obs []domain.ObligationItem) []domain.ObligationItem {
	pq := dsa.NewPriorityQueue[domain.ObligationItem]()
	for _, ob := range obs {
		pq.Push(ob.DueInDays, ob)
	}
	return pq.Drain()
}

// SelectProposal picks the most urgent obligation decision that calls for
// action. A decision with no real target is not actionable unless it is a
// founder alert. When nothing is actionable the proposal is status quo.
func SelectProposal(plans []ObligationPlan) domain.Decision {
	if i := selectIndex(plans); i >= 0 {
		return plans[i].Decision
	}
	return domain.Decision{
		Strategy:        domain.StrategyStatusQuo,
		Targets:         []string{},
		Rationale:       "All obligations are covered by pooled receivables and cash; no action needed.",
		ExecutionParams: domain.ExecutionParams{Tone: domain.ToneNone, Channel: domain.ChannelNone},
		Source:          SourceRules,
	}
}

func selectIndex(plans []ObligationPlan) int {
	for i, op := range plans {
		d := op.Decision
		if d.Strategy == domain.StrategyAlert {
			return i
		}
		if d.Strategy != domain.StrategyStatusQuo && len(d.ValidTargets()) > 0 {
			return i
		}
	}
	return -1
}

func (p *Planner) planObligation(ob domain.ObligationItem, snap domain.Snapshot, allocated []bool) ObligationPlan {
	var (
		pooled  int64
		matched []int
	)
	for i, r := range snap.Receivables {
		if allocated[i] || r.DueInDays > ob.DueInDays {
			continue
		}
		pooled += r.Amount
		matched = append(matched, i)
	}

	op := ObligationPlan{Obligation: ob, Pooled: pooled}
	cash := snap.CashBalance

	switch {
	case ob.Amount == 0:
		// nothing owed; leave the receivables for later obligations
		op.Case = CaseReceivables
		op.Decision = statusQuo(ob, fmt.Sprintf("%s is ₹0; nothing to fund.", ob.Identifier))

	case pooled >= ob.Amount:
		op.Case = CaseReceivables
		op.Decision = collectDecision(ob, snap.Receivables, matched, pooled,
			fmt.Sprintf("Pooled receivables of ₹%d due within %d days cover %s (₹%d) on their own; cash of ₹%d is preserved.",
				pooled, ob.DueInDays, ob.Identifier, ob.Amount, cash))
		markAllocated(allocated, matched)

	case pooled+cash >= ob.Amount:
		op.Case = CaseCombined
		if pooled > 0 {
			op.Decision = collectDecision(ob, snap.Receivables, matched, pooled,
				fmt.Sprintf("Pooled receivables of ₹%d plus cash of ₹%d cover %s (₹%d).",
					pooled, cash, ob.Identifier, ob.Amount))
			markAllocated(allocated, matched)
		} else {
			op.Decision = statusQuo(ob,
				fmt.Sprintf("Cash of ₹%d covers %s (₹%d); no receivables are due in time.", cash, ob.Identifier, ob.Amount))
		}

	default:
		op.Case = CaseDeficit
		short := Shortfall(ob.Amount, pooled, cash)
		if ob.Delayable() {
			op.Decision = domain.Decision{
				Strategy:        domain.StrategyDelay,
				Targets:         []string{ob.Identifier},
				Rationale:       fmt.Sprintf("Shortfall of ₹%d on %s due in %d days; the bill can be extended.", short, ob.Identifier, ob.DueInDays),
				AmountGoal:      short,
				ExecutionParams: domain.ExecutionParams{Tone: domain.TonePolite, Channel: domain.ChannelEmail},
				Allocations:     map[string]int64{ob.Identifier: short},
				Obligation:      ob.Identifier,
				Source:          SourceRules,
			}
		} else {
			op.Decision = domain.Decision{
				Strategy:        domain.StrategyAlert,
				Targets:         []string{ob.Identifier},
				Rationale:       fmt.Sprintf("Shortfall of ₹%d on %s due in %d days and it cannot be delayed; founder action required.", short, ob.Identifier, ob.DueInDays),
				AmountGoal:      short,
				ExecutionParams: domain.ExecutionParams{Tone: domain.ToneUrgent, Channel: domain.ChannelEmail},
				Obligation:      ob.Identifier,
				Source:          SourceRules,
			}
		}
	}
	return op
}

// Shortfall is what is still missing after receivables and any positive
// cash. It never exceeds the obligation amount.
func Shortfall(amount, pooled, cash int64) int64 {
	if cash < 0 {
		cash = 0
	}
	short := amount - pooled - cash
	if short > amount {
		short = amount
	}
	if short < 0 {
		short = 0
	}
	return short
}

// ApplyGrace removes every target contacted within the grace window. The
// removed targets are listed in Suppressed; a decision left with no target
// drops to status quo. Founder alerts are never suppressed, and neither is
// a target at the escalation tier, so the enforcer still sees it.
func (p *Planner) ApplyGrace(d domain.Decision, profiles map[string]domain.ClientTrustProfile) domain.Decision {
	if p.grace == nil || (d.Strategy != domain.StrategyCollect && d.Strategy != domain.StrategyDelay && d.Strategy != domain.StrategyPartial) {
		return d
	}

	kept := make([]string, 0, len(d.Targets))
	for _, t := range d.Targets {
		prof, ok := profiles[t]
		if ok && prof.Tier < escalationTier && p.grace.InGracePeriod(prof) {
			d.Suppressed = append(d.Suppressed, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(d.Suppressed) == 0 {
		return d
	}

	allocs := make(map[string]int64, len(kept))
	var goal int64
	for _, t := range kept {
		if amt, ok := d.Allocations[t]; ok {
			allocs[t] = amt
			goal += amt
		}
	}
	d.Targets = kept
	d.Allocations = allocs
	if len(d.ValidTargets()) == 0 {
		d.Strategy = domain.StrategyStatusQuo
		d.AmountGoal = 0
		d.ExecutionParams = domain.ExecutionParams{Tone: domain.ToneNone, Channel: domain.ChannelNone}
		d.Rationale = fmt.Sprintf("%s Every target was contacted within the grace period; holding off.", d.Rationale)
		return d
	}
	if d.Strategy != domain.StrategyDelay {
		d.AmountGoal = goal
	}
	d.Rationale = fmt.Sprintf("%s Held back (recently contacted): %v.", d.Rationale, d.Suppressed)
	return d
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func collectDecision(ob domain.ObligationItem, recvs []domain.ReceivableItem, matched []int, pooled int64, rationale string) domain.Decision {
	allocs := make(map[string]int64)
	targets := make([]string, 0, len(matched))
	for _, i := range matched {
		r := recvs[i]
		if _, seen := allocs[r.ClientID]; !seen {
			targets = append(targets, r.ClientID)
		}
		allocs[r.ClientID] += r.Amount
	}
	return domain.Decision{
		Strategy:        domain.StrategyCollect,
		Targets:         targets,
		Rationale:       rationale,
		AmountGoal:      pooled,
		ExecutionParams: domain.ExecutionParams{Tone: domain.TonePolite, Channel: domain.ChannelEmail},
		Allocations:     allocs,
		Obligation:      ob.Identifier,
		Source:          SourceRules,
	}
}

func statusQuo(ob domain.ObligationItem, rationale string) domain.Decision {
	return domain.Decision{
		Strategy:        domain.StrategyStatusQuo,
		Targets:         []string{},
		Rationale:       rationale,
		ExecutionParams: domain.ExecutionParams{Tone: domain.ToneNone, Channel: domain.ChannelNone},
		Obligation:      ob.Identifier,
		Source:          SourceRules,
	}
}

func markAllocated(allocated []bool, idx []int) {
	for _, i := range idx {
		allocated[i] = true
	}
}
