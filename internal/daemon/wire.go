package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
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
	"github.com/finly-network/finly/internal/infra/llm"
	"github.com/finly-network/finly/internal/infra/mailer"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/infra/sqlite"
	"github.com/finly-network/finly/internal/logging"
)

// App is a fully wired FinLy process.
type App struct {
	Config     Config
	Runner     *cycle.Runner
	Ledger     domain.Ledger
	Analytics  domain.AnalyticsSink
	Resolver   *trust.Resolver
	Dispatcher *dispatch.Dispatcher
	Tracer     *observability.Tracer

	log     *slog.Logger
	closers []func()
}

// Build constructs every component from cfg. Remote stores that cannot be
// reached are replaced by their local file equivalents.
func Build(ctx context.Context, cfg Config) (*App, error) {
	cfg.fillPaths(Home())
	a := &App{Config: cfg, log: logging.New("daemon")}

	var db *sqlite.DB
	openDB := func() (*sqlite.DB, error) {
		if db != nil {
			return db, nil
		}
		var err error
		db, err = sqlite.Open(filepath.Dir(cfg.Ledger.Path))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		return db, nil
	}

	// ── Ledger ──
	local := ledger.NewFile(cfg.Ledger.Path)
	switch cfg.Ledger.Backend {
	case BackendSQLite:
		store, err := openDB()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ledger = store
	case BackendRedis:
		remote, client, err := ledger.NewRedis(ctx, ledger.RedisConfig{
			Addr:     cfg.Ledger.RedisAddr,
			Password: cfg.Ledger.RedisPassword,
			DB:       cfg.Ledger.RedisDB,
			Key:      cfg.Ledger.RedisKey,
		})
		if err != nil {
			a.log.Warn("redis ledger unavailable, using local file", "error", err, "path", cfg.Ledger.Path)
			a.Ledger = local
			break
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.Ledger = ledger.NewFallback(BackendRedis, remote, local)
	default:
		a.Ledger = local
	}

	// ── Analytics ──
	history := analytics.NewFile(cfg.Analytics.Path)
	switch cfg.Analytics.Backend {
	case BackendPostgres:
		pg, err := analytics.NewPostgres(ctx, cfg.Analytics.PostgresDSN)
		if err != nil {
			a.log.Warn("postgres analytics unavailable, using local file", "error", err)
			a.Analytics = history
			break
		}
		a.closers = append(a.closers, pg.Close)
		a.Analytics = analytics.NewFallback(BackendPostgres, pg, history)
	case BackendSQLite:
		store, err := openDB()
		if err != nil {
			a.log.Warn("sqlite analytics unavailable, using local file", "error", err)
			a.Analytics = history
			break
		}
		a.Analytics = analytics.NewFallback(BackendSQLite, store.Analytics(), history)
	default:
		a.Analytics = history
	}

	// ── Collaborators ──
	client := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: parseDuration(cfg.LLM.Timeout, llm.DefaultTimeout),
	})
	var riskGen, decisionGen, draftGen domain.TextGenerator
	if client.Configured() {
		riskGen = client.WithTemperature(cfg.LLM.RiskTemperature)
		decisionGen = client.WithTemperature(cfg.LLM.DecisionTemperature)
		draftGen = client.WithTemperature(cfg.LLM.DraftTemperature)
	} else {
		a.log.Info("no llm api key, using deterministic analysis and default templates")
	}

	mcfg := mailer.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		From:     cfg.Mail.From,
		Password: cfg.Mail.Password,
		Timeout:  parseDuration(cfg.Mail.Timeout, mailer.DefaultTimeout),
	}
	mail := mailer.New(mcfg)
	if !mcfg.Configured() {
		a.log.Info("smtp credentials missing, deliveries are simulated")
	}

	// ── Stages ──
	a.Resolver = trust.NewResolver(trust.ResolverConfig{
		ProvisionalWindow: parseDuration(cfg.Trust.ProvisionalWindow, trust.DefaultProvisionalWindow),
		GracePeriod:       parseDuration(cfg.Trust.GracePeriod, trust.DefaultGracePeriod),
	})
	a.Dispatcher = dispatch.New(dispatch.Config{
		MaxParallel:    cfg.Dispatch.MaxParallel,
		FounderAddress: cfg.Dispatch.FounderAddress,
	}, dispatch.NewDrafter(draftGen), mail)
	a.Tracer = observability.NewTracer(observability.TracerConfig{
		Enabled:  true,
		MaxSpans: cfg.Metrics.TraceBuffer,
	})

	deps := cycle.Deps{
		Ledger:     a.Ledger,
		Resolver:   a.Resolver,
		Analyzer:   risk.NewAnalyzer(riskGen),
		Planner:    planner.New(a.Resolver),
		Enforcer:   escalation.NewEnforcer(),
		Dispatcher: a.Dispatcher,
		Recorder:   dispatch.NewRecorder(a.Ledger, a.Resolver),
		Analytics:  a.Analytics,
		Tracer:     a.Tracer,
	}
	mode := cfg.Decision.Mode
	if decisionGen != nil {
		deps.Proposer = escalation.NewProposer(decisionGen)
	} else if mode == cycle.ModeLLM {
		a.log.Warn("decision.mode is llm but no api key is set, proposing by rules")
		mode = cycle.ModeRules
	}
	a.Runner = cycle.New(cycle.Config{
		Mode:             mode,
		AnalyticsTimeout: parseDuration(cfg.Analytics.SaveTimeout, 5*time.Second),
	}, deps)

	a.log.Info("finly wired",
		"ledger", cfg.Ledger.Backend,
		"analytics", cfg.Analytics.Backend,
		"mode", mode,
	)
	return a, nil
}

// Close waits for pending history saves and releases store connections.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Records returns the ledger newest first.
func (a *App) Records(ctx context.Context) ([]domain.LedgerRecord, error) {
	recs, err := a.Ledger.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.NewestFirst(recs), nil
}
