// Package dispatch carries a final decision out and records what happened.
//
// A cycle moves PLANNED → DRAFTING → DISPATCHING → RECORDED, or straight to
// SKIPPED when there is nothing to send:
//  1. Resolve each valid target's amount and address
//  2. Draft per target (tone changes voice only)
//  3. Deliver per target, bounded by MaxParallel
//  4. Reassemble results in target order
//  5. Append exactly one ledger record (Recorder)
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// State is a dispatch cycle state.
type State string

const (
	StatePlanned     State = "PLANNED"
	StateDrafting    State = "DRAFTING"
	StateDispatching State = "DISPATCHING"
	StateRecorded    State = "RECORDED"
	StateSkipped     State = "SKIPPED"
)

// extensionDays is the extra time asked of a vendor.
const extensionDays = 7

// Placeholder addresses used when a target has no known contact.
const (
	ClientPlaceholderAddress = "client_contact@example.com"
	VendorPlaceholderAddress = "vendor_contact@example.com"
	DefaultFounderAddress    = "founder@finly.app"
)

// Config controls dispatch behavior.
type Config struct {
	MaxParallel    int    // Maximum concurrent per-target jobs (default: 4)
	FounderAddress string // Where founder alerts go
}

// DefaultConfig returns safe dispatch defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:    4,
		FounderAddress: DefaultFounderAddress,
	}
}

// Request is one dispatch job.
type Request struct {
	Decision    domain.Decision
	Receivables []domain.ReceivableItem
	SubGoal     domain.SubGoal
}

// Outcome is what Execute produced. ActionLog becomes the ledger record's
// details.
type Outcome struct {
	State     State
	ActionLog domain.ActionLog
	Targets   []string // valid targets, in decision order
}

// Dispatcher executes decisions.
type Dispatcher struct {
	mu        sync.RWMutex
	config    Config
	drafter   *Drafter
	deliverer domain.Deliverer
	log       *slog.Logger

	active        int
	executed      int64
	skipped       int64
	delivered     int64
	fallbacks     int64
	draftFailures int64
}

// New creates a dispatcher.
func New(cfg Config, drafter *Drafter, deliverer domain.Deliverer) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.FounderAddress == "" {
		cfg.FounderAddress = DefaultFounderAddress
	}
	return &Dispatcher{
		config:    cfg,
		drafter:   drafter,
		deliverer: deliverer,
		log:       logging.New("dispatch"),
	}
}

// Execute runs the decision. It never fails: draft and delivery problems
// are folded into the per-target results.
func (d *Dispatcher) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()
	strategy := req.Decision.Strategy
	defer func() {
		observability.DispatchDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	}()

	d.mu.Lock()
	d.active++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	var out Outcome
	switch strategy {
	case domain.StrategyCollect, domain.StrategyDelay:
		out = d.executeBatch(ctx, req)
	case domain.StrategyAlert:
		out = d.executeAlert(ctx, req)
	default:
		// nobody was contacted, so no client is attributed and nothing is recorded
		out = skipped(string(strategy), nil)
	}

	d.mu.Lock()
	if out.State == StateSkipped {
		d.skipped++
	} else {
		d.executed++
	}
	d.mu.Unlock()

	d.log.Info("dispatch finished", "strategy", strategy, "state", out.State, "targets", len(out.Targets))
	return out
}

// ─── Collect / Delay ────────────────────────────────────────────────────────

type job struct {
	target   string
	address  string
	amount   int64
	deadline int
}

func (d *Dispatcher) executeBatch(ctx context.Context, req Request) Outcome {
	dec := req.Decision
	targets := dec.ValidTargets()
	if len(targets) == 0 {
		return skipped("no valid targets", nil)
	}

	action := domain.ActionReminderMulti
	if dec.Strategy == domain.StrategyDelay {
		action = domain.ActionExtensionRequest
	}

	// PLANNED: resolve everything the drafts depend on up front.
	jobs := make([]job, len(targets))
	for i, t := range targets {
		jobs[i] = d.plan(dec, req, t)
	}

	results := make([]domain.TargetResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(d.config.MaxParallel)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			results[i] = d.runJob(ctx, dec, j)
			return nil
		})
	}
	g.Wait()

	return Outcome{
		State: StateDispatching,
		ActionLog: domain.ActionLog{
			ActionTaken:      action,
			TargetsProcessed: results,
			ToneUsed:         dec.ExecutionParams.Tone,
		},
		Targets: targets,
	}
}

func (d *Dispatcher) plan(dec domain.Decision, req Request, target string) job {
	j := job{target: target, amount: TargetAmount(dec, req.Receivables, target)}

	if dec.Strategy == domain.StrategyDelay {
		j.deadline = extensionDays
	} else {
		j.deadline = req.SubGoal.DeadlineDays
		if j.deadline <= 0 {
			j.deadline = domain.DefaultDeadlineDays
		}
	}

	j.address = LookupAddress(req.Receivables, target)
	if j.address == "" {
		j.address = ClientPlaceholderAddress
		if dec.Strategy == domain.StrategyDelay {
			j.address = VendorPlaceholderAddress
		}
	}
	return j
}

// runJob drafts and delivers for one target: DRAFTING then DISPATCHING.
func (d *Dispatcher) runJob(ctx context.Context, dec domain.Decision, j job) domain.TargetResult {
	tone := dec.ExecutionParams.Tone

	var (
		body string
		err  error
	)
	if dec.Strategy == domain.StrategyDelay {
		body, err = d.drafter.Extension(ctx, j.target, j.amount, tone)
	} else {
		body, err = d.drafter.Reminder(ctx, j.target, j.amount, j.deadline, tone)
	}
	res := domain.TargetResult{Target: j.target, Address: j.address, Amount: j.amount}
	if err != nil {
		res.DraftError = err.Error()
		d.count(&d.draftFailures)
	}

	msg := domain.Message{
		To:           j.address,
		Body:         body,
		Tone:         tone,
		Recipient:    j.target,
		Amount:       j.amount,
		DeadlineDays: j.deadline,
	}
	if dec.Strategy == domain.StrategyDelay {
		msg.Subject = domain.ExtensionSubject(j.target)
	}
	res.Result = d.deliver(ctx, msg)
	return res
}

// ─── Alert ──────────────────────────────────────────────────────────────────

func (d *Dispatcher) executeAlert(ctx context.Context, req Request) Outcome {
	dec := req.Decision
	targets := dec.ValidTargets()

	entity := strings.Join(targets, ", ")
	if entity == "" {
		entity = "Unknown Entity"
	}
	reason := dec.Rationale
	if strings.TrimSpace(reason) == "" {
		reason = "Escalation requested due to high risk or persistent failures."
	}

	body, err := d.drafter.Escalation(ctx, entity, reason)
	if err != nil {
		d.count(&d.draftFailures)
	}
	result := d.deliver(ctx, domain.Message{
		To:        d.config.FounderAddress,
		Subject:   domain.EscalationSubject(entity),
		Body:      body,
		Tone:      domain.ToneUrgent,
		Recipient: "Founder",
		Amount:    dec.AmountGoal,
	})

	return Outcome{
		State: StateDispatching,
		ActionLog: domain.ActionLog{
			ActionTaken:    domain.ActionFounderAlerted,
			Target:         entity,
			RecipientEmail: d.config.FounderAddress,
			ToneUsed:       domain.ToneUrgent,
			ContentDraft:   body,
			Result:         &result,
		},
		Targets: targets,
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (d *Dispatcher) deliver(ctx context.Context, msg domain.Message) domain.DeliveryResult {
	res := d.deliverer.Deliver(ctx, msg)
	if res.Status == "" {
		res.Status = domain.StatusUnknown
	}
	if res.Status == domain.StatusFallback {
		d.count(&d.fallbacks)
	} else {
		d.count(&d.delivered)
	}
	return res
}

func (d *Dispatcher) count(n *int64) {
	d.mu.Lock()
	*n++
	d.mu.Unlock()
}

func skipped(reason string, targets []string) Outcome {
	return Outcome{
		State: StateSkipped,
		ActionLog: domain.ActionLog{
			ActionTaken: domain.ActionNone,
			Reason:      reason,
			Result:      &domain.DeliveryResult{Status: domain.StatusSkipped},
		},
		Targets: targets,
	}
}

// TargetAmount returns what a single target is asked for: its allocation
// when the decision carries one, else its receivable amount, else the
// decision's goal.
func TargetAmount(dec domain.Decision, recvs []domain.ReceivableItem, target string) int64 {
	if amt, ok := dec.Allocations[target]; ok {
		return amt
	}
	if dec.Strategy != domain.StrategyDelay {
		var sum int64
		found := false
		for _, r := range recvs {
			if r.ClientID == target {
				sum += r.Amount
				found = true
			}
		}
		if found {
			return sum
		}
	}
	return dec.AmountGoal
}

// LookupAddress returns the first contact address listed for target.
func LookupAddress(recvs []domain.ReceivableItem, target string) string {
	for _, r := range recvs {
		if r.ClientID == target && strings.TrimSpace(r.ContactAddress) != "" {
			return r.ContactAddress
		}
	}
	return ""
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats returns dispatcher statistics.
type Stats struct {
	Active        int   `json:"active"`
	Executed      int64 `json:"executed"`
	Skipped       int64 `json:"skipped"`
	Delivered     int64 `json:"delivered"`
	Fallbacks     int64 `json:"fallbacks"`
	DraftFailures int64 `json:"draft_failures"`
	MaxParallel   int   `json:"max_parallel"`
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		Active:        d.active,
		Executed:      d.executed,
		Skipped:       d.skipped,
		Delivered:     d.delivered,
		Fallbacks:     d.fallbacks,
		DraftFailures: d.draftFailures,
		MaxParallel:   d.config.MaxParallel,
	}
}
