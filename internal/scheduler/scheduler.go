package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	opshttp "github.com/wheelhouse/wheelhouse/internal/interfaces/http"
	"github.com/wheelhouse/wheelhouse/internal/marketdata"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

// Job types understood by the scheduler.
const (
	JobRiskRefresh        = "risk.refresh"
	JobTriggerSweep       = "risk.triggers"
	JobCorrelationRefresh = "correlation.refresh"
	JobWeeklyReview       = "review.weekly"
)

// Job represents a scheduled job configuration
type Job struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	Every       time.Duration `yaml:"every"`
	Description string        `yaml:"description"`
	Enabled     bool          `yaml:"enabled"`
}

// Config holds the scheduler configuration
type Config struct {
	Tick time.Duration `yaml:"tick"`
	Jobs []Job         `yaml:"jobs"`
}

// DefaultConfig returns the production job cadence: intraday risk
// recomputes, trigger sweeps every few minutes, an end of day recompute,
// the monthly correlation refresh, and the weekly portfolio review.
func DefaultConfig() Config {
	return Config{
		Tick: time.Minute,
		Jobs: []Job{
			{Name: "intraday-risk", Type: JobRiskRefresh, Every: 10 * time.Minute, Enabled: true,
				Description: "recompute the portfolio risk snapshot"},
			{Name: "trigger-sweep", Type: JobTriggerSweep, Every: 5 * time.Minute, Enabled: true,
				Description: "evaluate stop-loss and rebalance triggers"},
			{Name: "daily-close", Type: JobRiskRefresh, Every: 24 * time.Hour, Enabled: true,
				Description: "end of day recompute and snapshot archive"},
			{Name: "correlation-refresh", Type: JobCorrelationRefresh, Every: 24 * time.Hour, Enabled: true,
				Description: "rebuild the pairwise correlation matrix when the monthly cadence is due"},
			{Name: "weekly-review", Type: JobWeeklyReview, Every: 7 * 24 * time.Hour, Enabled: true,
				Description: "full recompute with per-limit headroom summary"},
		},
	}
}

// JobResult represents the outcome of one job execution
type JobResult struct {
	JobName    string        `json:"job_name"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Directives int           `json:"directives,omitempty"`
}

// Deps are the components jobs operate on. The repos and metrics may be
// nil when running without a database or ops server; those hooks are then
// skipped.
type Deps struct {
	Aggregator *risk.Aggregator
	Corr       *risk.CorrelationTracker
	Market     marketdata.Provider
	Triggers   risk.TriggerConfig
	Snapshots  persistence.SnapshotsRepo
	Directives persistence.DirectivesRepo
	Metrics    *opshttp.MetricsRegistry
}

// Scheduler runs the recurring risk maintenance jobs
type Scheduler struct {
	config Config
	deps   Deps
	now    func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
	running bool
}

// New creates a scheduler from configuration and live dependencies
func New(config Config, deps Deps) *Scheduler {
	if config.Tick <= 0 {
		config.Tick = time.Minute
	}
	return &Scheduler{
		config:  config,
		deps:    deps,
		now:     time.Now,
		lastRun: make(map[string]time.Time),
	}
}

// Jobs returns all configured jobs
func (s *Scheduler) Jobs() []Job {
	return s.config.Jobs
}

// Start runs the scheduler loop until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	log.Info().Int("jobs", len(s.config.Jobs)).Dur("tick", s.config.Tick).Msg("Scheduler starting")

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			s.runDueJobs(ctx)
		}
	}
}

// runDueJobs executes every enabled job whose interval has elapsed
func (s *Scheduler) runDueJobs(ctx context.Context) {
	now := s.now()
	for _, job := range s.config.Jobs {
		if !job.Enabled || !s.due(job, now) {
			continue
		}
		result := s.execute(ctx, job)
		if !result.Success {
			log.Warn().Str("job", job.Name).Str("error", result.Error).Msg("Scheduled job failed")
		}
	}
}

func (s *Scheduler) due(job Job, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[job.Name]
	return !ok || now.Sub(last) >= job.Every
}

// RunJob executes a specific job immediately by name
func (s *Scheduler) RunJob(ctx context.Context, jobName string) (*JobResult, error) {
	for _, job := range s.config.Jobs {
		if job.Name == jobName {
			result := s.execute(ctx, job)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", jobName)
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobResult {
	start := s.now()
	s.mu.Lock()
	s.lastRun[job.Name] = start
	s.mu.Unlock()

	result := JobResult{JobName: job.Name, StartTime: start, Success: true}

	log.Info().Str("job", job.Name).Str("type", job.Type).Msg("Executing job")

	var err error
	switch job.Type {
	case JobRiskRefresh:
		err = s.refreshRisk(ctx)
	case JobTriggerSweep:
		result.Directives, err = s.sweepTriggers(ctx)
	case JobCorrelationRefresh:
		err = s.refreshCorrelations(ctx)
	case JobWeeklyReview:
		err = s.weeklyReview(ctx)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	result.Duration = s.now().Sub(start)
	return result
}

// refreshRisk recomputes the authoritative snapshot and archives it
func (s *Scheduler) refreshRisk(ctx context.Context) error {
	snap, err := s.deps.Aggregator.Recompute(ctx, s.now())
	if err != nil {
		return fmt.Errorf("recomputing risk snapshot: %w", err)
	}

	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.Insert(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("Archiving risk snapshot failed")
		}
	}

	log.Info().
		Float64("net_delta", snap.NetDelta).
		Float64("vega_notional_pct", snap.VegaNotionalPct).
		Int("positions", snap.PositionCount).
		Msg("Risk snapshot refreshed")
	return nil
}

// sweepTriggers evaluates stop-loss and limit-breach conditions across
// the open book and records any directives emitted.
func (s *Scheduler) sweepTriggers(ctx context.Context) (int, error) {
	now := s.now()

	vix := s.deps.Aggregator.Regime().VIX
	if s.deps.Market != nil {
		fresh, err := s.deps.Market.VIX(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("VIX fetch failed, using last known value")
		} else {
			vix = fresh
		}
	}

	directives := s.deps.Aggregator.EvaluateTriggers(s.deps.Triggers, vix, now)
	for _, d := range directives {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordDirective(d)
		}
		if s.deps.Directives == nil {
			continue
		}
		if err := s.deps.Directives.Insert(ctx, d); err != nil {
			log.Warn().Err(err).Str("type", string(d.Type)).Msg("Recording directive failed")
		}
	}
	return len(directives), nil
}

// refreshCorrelations rebuilds the pairwise matrix when the monthly
// cadence is due, using return histories observed since the last build.
func (s *Scheduler) refreshCorrelations(ctx context.Context) error {
	if s.deps.Corr == nil {
		return nil
	}
	now := s.now()
	if !s.deps.Corr.RefreshDue(now) {
		log.Debug().Msg("Correlation refresh not yet due")
		return nil
	}

	pf := s.deps.Aggregator.PortfolioSnapshot()
	symbols := make([]string, 0, len(pf.Positions))
	seen := make(map[string]bool)
	for _, pos := range pf.Positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}

	s.deps.Corr.Refresh(symbols, now)
	log.Info().Int("symbols", len(symbols)).Msg("Correlation matrix refreshed")

	// Downstream VaR uses the new matrix on the next recompute.
	return s.refreshRisk(ctx)
}

// weeklyReview recomputes and logs per-limit headroom for the operator
func (s *Scheduler) weeklyReview(ctx context.Context) error {
	if err := s.refreshRisk(ctx); err != nil {
		return err
	}

	ev := log.Info()
	for kind, h := range s.deps.Aggregator.Headrooms() {
		ev = ev.Float64(string(kind), h)
	}
	ev.Float64("adjustment_factor", s.deps.Aggregator.AdjustmentFactor()).
		Msg("Weekly portfolio review")
	return nil
}
