package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/app"
	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/config"
	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/execution"
	"github.com/wheelhouse/wheelhouse/internal/gates"
	opshttp "github.com/wheelhouse/wheelhouse/internal/interfaces/http"
	"github.com/wheelhouse/wheelhouse/internal/interpret"
	"github.com/wheelhouse/wheelhouse/internal/marketdata"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/persistence/postgres"
	"github.com/wheelhouse/wheelhouse/internal/risk"
	"github.com/wheelhouse/wheelhouse/internal/scheduler"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

// engine holds every wired component for one process lifetime
type engine struct {
	config     config.Config
	agg        *risk.Aggregator
	corr       *risk.CorrelationTracker
	classifier *catalyst.Classifier
	market     marketdata.Provider
	pipeline   *app.Pipeline
	metrics    *opshttp.MetricsRegistry
	scheduler  *scheduler.Scheduler

	db         *sqlx.DB
	decisions  persistence.DecisionsRepo
	positions  persistence.PositionsRepo
	snapshots  persistence.SnapshotsRepo
	directives persistence.DirectivesRepo
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadPortfolio(path string) (*domain.Portfolio, error) {
	pf := &domain.Portfolio{
		Shares:           map[string]int{},
		SectorExposure:   map[string]float64{},
		BrokerAllocation: map[string]float64{},
	}
	if path == "" {
		return pf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading portfolio file: %w", err)
	}
	if err := json.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("parsing portfolio file: %w", err)
	}
	if pf.Shares == nil {
		pf.Shares = map[string]int{}
	}
	if pf.SectorExposure == nil {
		pf.SectorExposure = map[string]float64{}
	}
	if pf.BrokerAllocation == nil {
		pf.BrokerAllocation = map[string]float64{}
	}
	return pf, nil
}

// buildEngine assembles the full component graph. The database, redis
// cache, and data vendor are each optional; absent ones leave their
// consumers running against local state only.
func buildEngine(ctx context.Context, configPath, portfolioPath string) (*engine, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	pf, err := loadPortfolio(portfolioPath)
	if err != nil {
		return nil, err
	}

	e := &engine{config: cfg}

	if cfg.Database.DSN != "" {
		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		e.db = db
		e.decisions = postgres.NewDecisionsRepo(db, cfg.Database.QueryTimeout)
		e.positions = postgres.NewPositionsRepo(db, cfg.Database.QueryTimeout)
		e.snapshots = postgres.NewSnapshotsRepo(db, cfg.Database.QueryTimeout)
		e.directives = postgres.NewDirectivesRepo(db, cfg.Database.QueryTimeout)

		// Open positions in the store are authoritative over the file.
		open, err := e.positions.ListOpen(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading open positions: %w", err)
		}
		if len(open) > 0 {
			pf.Positions = open
		}
	}

	if cfg.Market.BaseURL != "" {
		client := marketdata.NewClient(cfg.Market)
		e.market = client
		if cfg.Cache.Addr != "" {
			cached, err := marketdata.NewCachedProvider(client, cfg.Cache)
			if err != nil {
				log.Warn().Err(err).Msg("Redis unavailable, using vendor directly")
			} else {
				e.market = cached
			}
		}
	}

	e.corr = risk.NewCorrelationTracker(63)
	e.classifier = catalyst.NewClassifier(cfg.Classifier)
	e.agg = risk.NewAggregator(pf, risk.NewParametricModel(), e.corr,
		cfg.Limits, cfg.Regimes, cfg.Classifier)
	e.metrics = opshttp.NewMetricsRegistry()

	e.pipeline = app.NewPipeline(app.Deps{
		Screener:   gates.NewScreener(cfg.Thresholds, cfg.SoftWeights, cfg.Regimes),
		Assessor:   interpret.NewClient(cfg.Interpret),
		Scorer:     decision.NewScorer(cfg.Weights, cfg.Bands),
		Sizer:      sizing.NewSizer(cfg.Sizing, e.agg, cfg.Regimes),
		Aggregator: e.agg,
		Gateway:    execution.LogGateway{},
		Decisions:  e.decisions,
		Metrics:    e.metrics,
	}, cfg.Pipeline)

	e.scheduler = scheduler.New(cfg.Scheduler, scheduler.Deps{
		Aggregator: e.agg,
		Corr:       e.corr,
		Market:     e.market,
		Triggers:   cfg.Triggers,
		Snapshots:  e.snapshots,
		Directives: e.directives,
		Metrics:    e.metrics,
	})

	return e, nil
}

func (e *engine) close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing database failed")
		}
	}
}

// refreshRegime classifies the current catalyst context from live market
// data and applies it to the aggregator. Without a vendor configured the
// regime stays at its last applied value.
func (e *engine) refreshRegime(ctx context.Context, now time.Time) {
	if e.market == nil {
		return
	}
	vix, err := e.market.VIX(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("VIX fetch failed, keeping current regime")
		return
	}
	regime := e.classifier.Classify(catalyst.Inputs{VIX: vix, Date: now})
	e.agg.SetRegime(regime)
	e.metrics.ObserveRegime(regime.Regime)
}

func runScreen(ctx context.Context, configPath, portfolioPath, candidatesPath string) error {
	e, err := buildEngine(ctx, configPath, portfolioPath)
	if err != nil {
		return err
	}
	defer e.close()

	data, err := os.ReadFile(candidatesPath)
	if err != nil {
		return fmt.Errorf("reading candidates file: %w", err)
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return fmt.Errorf("parsing candidates file: %w", err)
	}

	now := time.Now()
	e.refreshRegime(ctx, now)
	if _, err := e.agg.Recompute(ctx, now); err != nil {
		return err
	}

	timer := e.metrics.StartStepTimer("screen_batch")
	records, err := e.pipeline.Run(ctx, candidates)
	if err != nil {
		timer.Stop("error")
		return err
	}
	timer.Stop("ok")

	for _, rec := range records {
		e.metrics.DecisionOutcomes.WithLabelValues(string(rec.Outcome)).Inc()
		if rec.Sizing != nil {
			e.metrics.BindingConstraints.WithLabelValues(string(rec.Sizing.BindingConstraint)).Inc()
		}
	}
	printDecisions(records)
	return nil
}

func printDecisions(records []*decision.Record) {
	fmt.Printf("%-8s %-6s %-18s %6s %8s %6s %-14s %s\n",
		"SYMBOL", "STRAT", "OUTCOME", "SCORE", "QTY", "MULT", "BINDING", "NOTE")
	for _, rec := range records {
		qty, mult, binding := "-", "-", "-"
		if rec.Sizing != nil {
			qty = fmt.Sprintf("%d", rec.Sizing.Quantity)
			mult = fmt.Sprintf("%.2f", rec.Sizing.Multiplier)
			binding = string(rec.Sizing.BindingConstraint)
		}
		note := rec.Resolution
		if note == "" && len(rec.HardFailures) > 0 {
			note = rec.HardFailures[0]
		}
		fmt.Printf("%-8s %-6.6s %-18s %6.2f %8s %6s %-14s %s\n",
			rec.Symbol, string(rec.Strategy), string(rec.Outcome),
			rec.FinalScore, qty, mult, binding, note)
	}
	fmt.Printf("\n%d candidates evaluated\n", len(records))
}

func runRisk(ctx context.Context, configPath, portfolioPath string) error {
	e, err := buildEngine(ctx, configPath, portfolioPath)
	if err != nil {
		return err
	}
	defer e.close()

	now := time.Now()
	e.refreshRegime(ctx, now)
	snap, err := e.agg.Recompute(ctx, now)
	if err != nil {
		return err
	}

	regime := e.agg.Regime()
	fmt.Printf("Regime:            %s (VIX %.1f)\n", regime.Regime, regime.VIX)
	fmt.Printf("Positions:         %d\n", snap.PositionCount)
	fmt.Printf("Net delta:         %+.4f\n", snap.NetDelta)
	fmt.Printf("Net gamma:         %+.4f\n", snap.NetGamma)
	fmt.Printf("Vega notional:     %.3f%% of value\n", snap.VegaNotionalPct*100)
	fmt.Printf("VaR(95%%):          $%.0f\n", snap.VaR95)
	fmt.Printf("ES(97.5%%):         $%.0f\n", snap.ES975)
	fmt.Printf("\nHeadroom by limit:\n")
	for _, kind := range risk.AllLimits() {
		fmt.Printf("  %-22s %6.1f%%\n", kind, e.agg.Headroom(kind)*100)
	}
	fmt.Printf("\nRisk adjustment factor: %.2f\n", e.agg.AdjustmentFactor())
	return nil
}

// runMonitor runs the recurring risk jobs in the foreground without the
// HTTP surface. Stop-loss and rebalance directives show up as log events.
func runMonitor(ctx context.Context, configPath, portfolioPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx, configPath, portfolioPath)
	if err != nil {
		return err
	}
	defer e.close()

	now := time.Now()
	e.refreshRegime(ctx, now)
	if _, err := e.agg.Recompute(ctx, now); err != nil {
		return err
	}

	log.Info().
		Str("regime", e.agg.Regime().Regime.String()).
		Int("jobs", len(e.config.Scheduler.Jobs)).
		Msg("Monitoring portfolio")

	if err := e.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(ctx context.Context, configPath, portfolioPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx, configPath, portfolioPath)
	if err != nil {
		return err
	}
	defer e.close()

	now := time.Now()
	e.refreshRegime(ctx, now)
	if _, err := e.agg.Recompute(ctx, now); err != nil {
		return err
	}

	server := opshttp.NewServer(e.config.Server, e.metrics, e.agg, e.decisions)

	errCh := make(chan error, 2)
	go func() {
		if err := e.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runJobsList(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("%-22s %-22s %-10s %-8s %s\n", "NAME", "TYPE", "EVERY", "ENABLED", "DESCRIPTION")
	for _, job := range cfg.Scheduler.Jobs {
		fmt.Printf("%-22s %-22s %-10s %-8t %s\n",
			job.Name, job.Type, job.Every, job.Enabled, job.Description)
	}
	return nil
}

func runJobsRun(ctx context.Context, configPath, portfolioPath, jobName string) error {
	e, err := buildEngine(ctx, configPath, portfolioPath)
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := e.agg.Recompute(ctx, time.Now()); err != nil {
		return err
	}

	result, err := e.scheduler.RunJob(ctx, jobName)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("job %s failed: %s", jobName, result.Error)
	}

	fmt.Printf("Job %s completed in %s", result.JobName, result.Duration)
	if result.Directives > 0 {
		fmt.Printf(" (%d directives emitted)", result.Directives)
	}
	fmt.Println()
	return nil
}
