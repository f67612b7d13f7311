// Package cycle runs one closed decision loop: read the ledger, resolve
// trust, assess risk, plan, propose, enforce, dispatch, record. Stages run
// sequentially and each consumes the full output of the one before.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finly-network/finly/internal/app/dispatch"
	"github.com/finly-network/finly/internal/app/escalation"
	"github.com/finly-network/finly/internal/app/planner"
	"github.com/finly-network/finly/internal/app/risk"
	"github.com/finly-network/finly/internal/app/trust"
	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// Proposal modes.
const (
	ModeRules = "rules"
	ModeLLM   = "llm"
)

// Config controls the runner.
type Config struct {
	Mode             string        // rules (default) or llm
	AnalyticsTimeout time.Duration // budget for the background history save
}

// DefaultConfig returns runner defaults.
func DefaultConfig() Config {
	return Config{Mode: ModeRules, AnalyticsTimeout: 5 * time.Second}
}

// Deps are the stage implementations. Proposer, Analytics and Tracer are
// optional.
type Deps struct {
	Ledger     domain.Ledger
	Resolver   *trust.Resolver
	Analyzer   *risk.Analyzer
	Planner    *planner.Planner
	Proposer   *escalation.Proposer
	Enforcer   *escalation.Enforcer
	Dispatcher *dispatch.Dispatcher
	Recorder   *dispatch.Recorder
	Analytics  domain.AnalyticsSink
	Tracer     *observability.Tracer
}

// Result is one completed cycle.
type Result struct {
	ID       string                  `json:"id"`
	State    dispatch.State          `json:"state"`
	Plan     planner.Plan            `json:"plan"`
	Response domain.AnalysisResponse `json:"response"`
}

// Report is the caller-facing view of a cycle: the analysis response with
// the per-obligation plan alongside it.
type Report struct {
	domain.AnalysisResponse
	Plan planner.Plan `json:"plan"`
}

// Report returns the response together with the plan.
func (res Result) Report() Report {
	return Report{AnalysisResponse: res.Response, Plan: res.Plan}
}

// Runner executes cycles.
type Runner struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	wg   sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New creates a runner.
func New(cfg Config, deps Deps) *Runner {
	if cfg.Mode == "" {
		cfg.Mode = ModeRules
	}
	if cfg.AnalyticsTimeout <= 0 {
		cfg.AnalyticsTimeout = 5 * time.Second
	}
	return &Runner{
		cfg:   cfg,
		deps:  deps,
		log:   logging.New("cycle"),
		now:   time.Now,
		newID: observability.NewID,
	}
}

// Run executes one cycle on snap. The only error returned is an invalid
// request, before any stage runs; every later failure degrades into the
// recorded outcome.
func (r *Runner) Run(ctx context.Context, snap domain.Snapshot) (Result, error) {
	if err := snap.Validate(); err != nil {
		return Result{}, err
	}
	if snap.Preferences == nil {
		prefs := domain.DefaultPreferences()
		snap.Preferences = &prefs
	}

	start := time.Now()
	id := r.newID()
	ctx = observability.WithTraceID(ctx, id)
	root := r.deps.Tracer.StartSpan(ctx, "cycle", map[string]string{"mode": r.cfg.Mode})
	log := r.log.With("cycle_id", id)

	// ── Ledger + trust ──
	span := r.deps.Tracer.StartSpan(ctx, "ledger.read", nil)
	records, err := r.deps.Ledger.ReadAll(ctx)
	if err != nil {
		log.Warn("ledger unreadable, resolving against empty history", "error", err)
		records = nil
	}
	r.deps.Tracer.EndSpan(span, err)

	profiles := r.deps.Resolver.ResolveAll(clientIDs(snap.Receivables), records)

	// ── Risk ──
	span = r.deps.Tracer.StartSpan(ctx, "risk", nil)
	metrics := risk.ComputeMetrics(snap)
	analysis, err := r.deps.Analyzer.Analyze(ctx, snap, metrics, profiles)
	if err != nil {
		observability.GenerationFailures.WithLabelValues("risk").Inc()
	}
	r.deps.Tracer.EndSpan(span, err)

	// ── Plan + propose ──
	span = r.deps.Tracer.StartSpan(ctx, "plan", nil)
	plan := r.deps.Planner.Plan(planner.Input{Snapshot: snap, Profiles: profiles})
	proposal := plan.Proposal
	if r.cfg.Mode == ModeLLM && r.deps.Proposer != nil {
		reference := plan.Proposal
		proposal, err = r.deps.Proposer.Propose(ctx, escalation.ProposalInput{
			Snapshot:  snap,
			SubGoal:   analysis.SubGoal,
			Metrics:   metrics,
			Profiles:  profiles,
			Reference: &reference,
		})
		if err != nil {
			observability.GenerationFailures.WithLabelValues("decision").Inc()
		} else {
			proposal.Source = escalation.SourceLLM
		}
		// generated targets may name clients outside the receivables
		for cid, p := range r.deps.Resolver.ResolveAll(missing(proposal.ValidTargets(), profiles), records) {
			profiles[cid] = p
		}
		proposal = r.deps.Planner.ApplyGrace(proposal, profiles)
	}
	if n := len(proposal.Suppressed); n > 0 {
		observability.SuppressedTargets.Add(float64(n))
	}
	r.deps.Tracer.EndSpan(span, nil)

	// ── Enforce ──
	final := r.deps.Enforcer.Enforce(proposal, profiles)
	if final.Strategy == domain.StrategyAlert && proposal.Strategy != domain.StrategyAlert {
		observability.EscalationsTotal.Inc()
		log.Info("proposal escalated to founder", "proposed", proposal.Strategy, "tier", escalation.MaxTier(proposal, profiles))
	}
	observability.DecisionsTotal.WithLabelValues(string(final.Strategy), final.Source).Inc()

	// ── Dispatch ──
	span = r.deps.Tracer.StartSpan(ctx, "dispatch", map[string]string{"strategy": string(final.Strategy)})
	out := r.deps.Dispatcher.Execute(ctx, dispatch.Request{
		Decision:    final,
		Receivables: snap.Receivables,
		SubGoal:     analysis.SubGoal,
	})
	r.deps.Tracer.EndSpan(span, nil)

	// ── Record ──
	span = r.deps.Tracer.StartSpan(ctx, "record", nil)
	updates, err := r.deps.Recorder.Record(ctx, final, &out)
	if err != nil {
		log.Error("outcome not persisted", "error", err)
	}
	r.deps.Tracer.EndSpan(span, err)

	// ── Escalate ──
	// Other obligations that need the founder are alerted too. They name
	// obligations, not clients, so they are not recorded.
	var escalations []domain.ActionLog
	if alerts := pendingAlerts(plan, final); len(alerts) > 0 {
		span = r.deps.Tracer.StartSpan(ctx, "escalate", nil)
		for _, alert := range alerts {
			o := r.deps.Dispatcher.Execute(ctx, dispatch.Request{
				Decision:    alert,
				Receivables: snap.Receivables,
				SubGoal:     analysis.SubGoal,
			})
			escalations = append(escalations, o.ActionLog)
			log.Info("founder alerted for obligation", "obligation", alert.Obligation, "shortfall", alert.AmountGoal)
		}
		r.deps.Tracer.EndSpan(span, nil)
	}

	resp := domain.AnalysisResponse{
		RiskAnalysis:     analysis,
		SubGoal:          analysis.SubGoal,
		Decision:         final,
		ActionLog:        out.ActionLog,
		Escalations:      escalations,
		MemoryUpdates:    updates,
		FinancialMetrics: metrics,
	}

	observability.CyclesTotal.WithLabelValues(string(out.State)).Inc()
	observability.CycleDuration.Observe(time.Since(start).Seconds())
	if root != nil {
		root.SetAttr("state", string(out.State))
		root.SetAttr("strategy", string(final.Strategy))
	}
	r.deps.Tracer.EndSpan(root, nil)
	log.Info("cycle complete", "strategy", final.Strategy, "state", out.State, "duration", time.Since(start))

	r.saveAsync(id, resp)
	return Result{ID: id, State: out.State, Plan: plan, Response: resp}, nil
}

// saveAsync stores the response in the analytics sink without holding up
// the caller.
func (r *Runner) saveAsync(id string, resp domain.AnalysisResponse) {
	if r.deps.Analytics == nil {
		return
	}
	rec := domain.AnalysisRecord{ID: id, CreatedAt: r.now().UTC(), Response: resp}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AnalyticsTimeout)
		defer cancel()
		if err := r.deps.Analytics.Save(ctx, rec); err != nil {
			r.log.Error("analysis history not saved", "cycle_id", id, "error", err)
		}
	}()
}

// Wait blocks until background analytics saves have finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Profile resolves one client against the current ledger.
func (r *Runner) Profile(ctx context.Context, clientID string) (domain.ClientTrustProfile, error) {
	records, err := r.deps.Ledger.ReadAll(ctx)
	if err != nil {
		return domain.ClientTrustProfile{}, fmt.Errorf("read ledger: %w", err)
	}
	return r.deps.Resolver.Resolve(clientID, records), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func clientIDs(recvs []domain.ReceivableItem) []string {
	seen := make(map[string]bool, len(recvs))
	out := make([]string, 0, len(recvs))
	for _, r := range recvs {
		if seen[r.ClientID] {
			continue
		}
		seen[r.ClientID] = true
		out = append(out, r.ClientID)
	}
	return out
}

// pendingAlerts returns the founder alerts the plan raised that final does
// not already carry out.
func pendingAlerts(plan planner.Plan, final domain.Decision) []domain.Decision {
	alerts := plan.Escalations
	if plan.Proposal.Strategy == domain.StrategyAlert {
		alerts = append([]domain.Decision{plan.Proposal}, alerts...)
	}
	var out []domain.Decision
	for _, a := range alerts {
		if final.Strategy == domain.StrategyAlert && a.Obligation == final.Obligation {
			continue
		}
		out = append(out, a)
	}
	return out
}

func missing(ids []string, have map[string]domain.ClientTrustProfile) []string {
	var out []string
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
