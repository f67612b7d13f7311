// Package escalation turns advisory proposals into final decisions.
//
// Whatever produced the proposal, the enforcer has the last word: a
// target's trust tier decides the strategy and tone, and the proposal only
// fills in what the tier leaves open.
//
//	max tier | strategy           | tone   | channel
//	≥3       | ALERT_FOUNDER      | URGENT | EMAIL
//	2        | unchanged (collect)| FIRM   | EMAIL
//	1        | unchanged (collect)| POLITE | EMAIL
package escalation

import (
	"fmt"

	"github.com/finly-network/finly/internal/domain"
)

// Enforcer applies the tier table. It holds no state.
type Enforcer struct{}

// NewEnforcer creates an enforcer.
func NewEnforcer() *Enforcer { return &Enforcer{} }

// MaxTier returns the highest tier among the decision's real targets.
// Targets without a profile count as tier 1.
func MaxTier(d domain.Decision, profiles map[string]domain.ClientTrustProfile) int {
	highest := 1
	for _, t := range d.ValidTargets() {
		if p, ok := profiles[t]; ok && p.Tier > highest {
			highest = p.Tier
		}
	}
	return highest
}

// Enforce returns the final decision for proposal d.
func (e *Enforcer) Enforce(d domain.Decision, profiles map[string]domain.ClientTrustProfile) domain.Decision {
	tier := MaxTier(d, profiles)

	switch {
	case tier >= 3:
		if d.Strategy != domain.StrategyAlert {
			d.Rationale = fmt.Sprintf("%s Escalated: a target is at tier %d, so the founder is alerted instead.", d.Rationale, tier)
		}
		d.Strategy = domain.StrategyAlert
		d.ExecutionParams = domain.ExecutionParams{Tone: domain.ToneUrgent, Channel: domain.ChannelEmail}
		d.Allocations = nil
	case tier == 2 && d.Strategy == domain.StrategyCollect:
		d.ExecutionParams = domain.ExecutionParams{Tone: domain.ToneFirm, Channel: domain.ChannelEmail}
	case tier == 1 && d.Strategy == domain.StrategyCollect:
		d.ExecutionParams = domain.ExecutionParams{Tone: domain.TonePolite, Channel: domain.ChannelEmail}
	}
	return d
}
