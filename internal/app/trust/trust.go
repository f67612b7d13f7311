// Package trust derives per-client trust state from the interaction ledger.
//
// Each client's profile is recomputed from the full ledger on every read:
//   - Attempts: every record naming the client
//   - Failures: lifetime count of failed contacts
//   - ConsecutiveFailures: the current failure streak
//   - Tier: 1 (polite), 2 (firm), 3 (escalate)
//
// A reminder that was sent but not yet answered is provisional: it only
// counts as a failure once the provisional window has elapsed.
package trust

import (
	"time"

	"github.com/finly-network/finly/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultProvisionalWindow is how long a SENT contact stays unjudged.
	DefaultProvisionalWindow = 24 * time.Hour

	// DefaultGracePeriod is how long after a contact no new reminder goes out.
	DefaultGracePeriod = 24 * time.Hour
)

// ─── Configuration ──────────────────────────────────────────────────────────

// ResolverConfig configures the resolver.
type ResolverConfig struct {
	ProvisionalWindow time.Duration // SENT older than this counts as a failure
	GracePeriod       time.Duration // contacts younger than this suppress reminders
}

// DefaultResolverConfig returns the 24h windows.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		ProvisionalWindow: DefaultProvisionalWindow,
		GracePeriod:       DefaultGracePeriod,
	}
}

// ─── Resolver ───────────────────────────────────────────────────────────────

// Resolver is stateless apart from its clock, so it is safe for concurrent
// use and calling it twice on the same ledger yields the same profile.
type Resolver struct {
	config ResolverConfig

	// Injectable clock for testing.
	now func() time.Time
}

// NewResolver creates a trust resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.ProvisionalWindow <= 0 {
		cfg.ProvisionalWindow = DefaultProvisionalWindow
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Resolver{config: cfg, now: time.Now}
}

// WithClock returns a copy of the resolver that reads time from now.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	cp := *r
	cp.now = now
	return &cp
}

// Resolve computes the trust profile of clientID from a ledger snapshot.
func (r *Resolver) Resolve(clientID string, records []domain.LedgerRecord) domain.ClientTrustProfile {
	profile := domain.ClientTrustProfile{ClientID: clientID}
	now := r.now()

	for _, rec := range records {
		if !rec.Mentions(clientID) {
			continue
		}
		profile.Attempts++
		profile.LastContactedAt = rec.Timestamp

		switch classify(rec.StatusFor(clientID)) {
		case outcomeSuccess:
			profile.ConsecutiveFailures = 0
		case outcomeFailure:
			profile.ConsecutiveFailures++
			profile.Failures++
		case outcomeProvisional:
			sentAt, ok := rec.Time()
			if !ok || now.Sub(sentAt) > r.config.ProvisionalWindow {
				profile.ConsecutiveFailures++
				profile.Failures++
			}
		}
	}

	profile.Tier = domain.TierFor(profile.ConsecutiveFailures)
	profile.RiskModifier = domain.RiskModifierFor(profile.ConsecutiveFailures)
	return profile
}

// ResolveAll resolves every client in ids against one snapshot.
func (r *Resolver) ResolveAll(ids []string, records []domain.LedgerRecord) map[string]domain.ClientTrustProfile {
	out := make(map[string]domain.ClientTrustProfile, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		out[id] = r.Resolve(id, records)
	}
	return out
}

// InGracePeriod reports whether the profile's last contact is recent enough
// that another reminder would be a duplicate.
func (r *Resolver) InGracePeriod(p domain.ClientTrustProfile) bool {
	last, ok := p.LastContact()
	if !ok {
		return false
	}
	return r.now().Sub(last) < r.config.GracePeriod
}

// ─── Pure Helper Functions ──────────────────────────────────────────────────

type outcome int

const (
	outcomeNeutral outcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeProvisional
)

// classify maps a status to its effect on the failure streak. Anything
// unrecognised is neutral: it still counts as an attempt.
func classify(status string) outcome {
	switch status {
	case domain.StatusPaid, domain.StatusOptimal:
		return outcomeSuccess
	case domain.StatusIgnored, domain.StatusFailed:
		return outcomeFailure
	case domain.StatusSent:
		return outcomeProvisional
	default:
		return outcomeNeutral
	}
}
