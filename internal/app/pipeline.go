package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/execution"
	"github.com/wheelhouse/wheelhouse/internal/gates"
	opshttp "github.com/wheelhouse/wheelhouse/internal/interfaces/http"
	"github.com/wheelhouse/wheelhouse/internal/interpret"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/risk"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

// Config bounds the pipeline's parallelism and retry behavior
type Config struct {
	Workers       int `yaml:"workers"`        // Parallel screening workers
	CommitRetries int `yaml:"commit_retries"` // Retries on a concurrent-mutation conflict
}

func DefaultConfig() Config {
	return Config{Workers: 4, CommitRetries: 3}
}

// Deps wires the pipeline's collaborators. Decisions may be nil when no
// audit store is configured, Metrics when no ops surface is running.
type Deps struct {
	Screener   *gates.Screener
	Assessor   interpret.Assessor
	Scorer     *decision.Scorer
	Sizer      *sizing.Sizer
	Aggregator *risk.Aggregator
	Gateway    execution.Gateway
	Decisions  persistence.DecisionsRepo
	Metrics    *opshttp.MetricsRegistry
}

// Pipeline runs candidates through screen -> assess -> score -> size ->
// commit -> emit. Screening and scoring are parallel over an immutable
// portfolio snapshot; limit-consuming commits serialize through the risk
// aggregator.
type Pipeline struct {
	deps   Deps
	config Config
	now    func() time.Time
}

func NewPipeline(deps Deps, config Config) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Pipeline{deps: deps, config: config, now: time.Now}
}

// Run evaluates all candidates and returns their decision records. A regime
// change observed mid-evaluation invalidates the in-flight screening and the
// candidate re-enters once with the new regime applied.
func (p *Pipeline) Run(ctx context.Context, candidates []domain.Candidate) ([]*decision.Record, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	snapshot := p.deps.Aggregator.PortfolioSnapshot()
	if snapshot == nil {
		return nil, fmt.Errorf("pipeline run: %w", domain.ErrSnapshotStale)
	}

	type job struct {
		idx  int
		cand domain.Candidate
	}

	jobs := make(chan job)
	slots := make([]*decision.Record, len(candidates))

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				rec, err := p.evaluate(ctx, j.cand, snapshot)
				slots[j.idx] = rec
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i, cand := range candidates {
		jobs <- job{idx: i, cand: cand}
	}
	close(jobs)
	wg.Wait()

	// Results come back in input order regardless of worker interleaving
	records := make([]*decision.Record, 0, len(candidates))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, rec)
		}
	}
	if firstErr != nil {
		return records, firstErr
	}
	return records, nil
}

// evaluate runs one candidate end to end. The screening pass repeats at
// most once, when the regime moved underneath it.
func (p *Pipeline) evaluate(ctx context.Context, cand domain.Candidate, snapshot *domain.Portfolio) (*decision.Record, error) {
	for attempt := 0; attempt < 2; attempt++ {
		regime := p.deps.Aggregator.Regime()

		screening, err := p.deps.Screener.Screen(ctx, cand, regime, snapshot)
		if err != nil {
			return nil, err
		}
		if p.deps.Metrics != nil {
			result := "fail"
			if screening.Passed {
				result = "pass"
			}
			p.deps.Metrics.ScreeningsTotal.WithLabelValues(string(cand.Strategy), result).Inc()
		}

		assessment, err := p.deps.Assessor.Assess(ctx, cand, regime)
		if err != nil {
			return nil, err
		}

		riskAdj := p.deps.Aggregator.AdjustmentFactor()
		rec := p.deps.Scorer.Decide(screening, assessment.Score, assessment.Degraded, riskAdj)

		if p.deps.Aggregator.Regime().Regime != regime.Regime {
			log.Info().
				Str("candidate", cand.ID()).
				Str("stale_regime", regime.Regime.String()).
				Msg("Regime changed mid-evaluation, re-screening")
			continue
		}

		if rec.Outcome == decision.Approved {
			p.complete(ctx, rec, cand, regime)
		}
		p.persist(ctx, rec)
		return rec, nil
	}
	return nil, fmt.Errorf("candidate %s: regime unstable across re-screen", cand.ID())
}

// complete runs the approval path: freshness check, sizing, the serialized
// commit with bounded retries, and the order intent.
func (p *Pipeline) complete(ctx context.Context, rec *decision.Record, cand domain.Candidate, regime catalyst.Context) {
	now := p.now()

	if _, err := p.deps.Aggregator.EnsureFresh(ctx, now); err != nil {
		p.escalate(rec, fmt.Sprintf("risk recompute failed: %v", err), now)
		return
	}

	res, err := p.deps.Sizer.Size(cand, 0, regime)
	if err != nil {
		p.rejectOrEscalate(rec, err, now)
		return
	}

	pos := buildPosition(cand, res.Quantity, regime, now)

	for attempt := 0; ; attempt++ {
		err = p.deps.Aggregator.Commit(ctx, pos, p.now())
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrentMutation) {
			p.rejectOrEscalate(rec, err, now)
			return
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.CommitConflicts.Inc()
		}
		if attempt+1 >= p.config.CommitRetries {
			p.escalate(rec, fmt.Sprintf("commit conflict persisted after %d retries: %v", p.config.CommitRetries, err), now)
			return
		}

		// Another commit consumed capacity; resize against the refreshed
		// snapshot and try again with the reduced quantity.
		log.Warn().
			Str("candidate", cand.ID()).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Commit conflict, resizing against refreshed snapshot")
		res, err = p.deps.Sizer.Size(cand, res.Quantity, regime)
		if err != nil {
			p.rejectOrEscalate(rec, err, now)
			return
		}
		pos.Quantity = res.Quantity
	}

	if err := rec.MarkSized(res, p.now()); err != nil {
		log.Error().Err(err).Str("decision", rec.ID).Msg("Sizing transition failed")
		return
	}

	intent := execution.OrderIntent{
		DecisionID:  rec.ID,
		Contract:    cand.Contract,
		Strategy:    cand.Strategy,
		Broker:      cand.Broker,
		Side:        execution.SellToOpen,
		Quantity:    res.Quantity,
		LimitPrice:  cand.Contract.Mid(),
		TimeInForce: execution.Day,
		EmittedAt:   p.now(),
	}
	if err := p.deps.Gateway.Emit(ctx, intent); err != nil {
		p.escalate(rec, fmt.Sprintf("order intent delivery failed: %v", err), p.now())
		return
	}
	if err := rec.MarkEmitted(p.now()); err != nil {
		log.Error().Err(err).Str("decision", rec.ID).Msg("Emit transition failed")
	}
}

func (p *Pipeline) rejectOrEscalate(rec *decision.Record, err error, now time.Time) {
	if errors.Is(err, domain.ErrInsufficientCapacity) {
		if rerr := rec.RejectCapacity(err.Error(), now); rerr != nil {
			log.Error().Err(rerr).Str("decision", rec.ID).Msg("Capacity rejection failed")
		}
		return
	}
	p.escalate(rec, err.Error(), now)
}

func (p *Pipeline) escalate(rec *decision.Record, reason string, now time.Time) {
	if err := rec.Escalate(reason, now); err != nil {
		log.Error().Err(err).Str("decision", rec.ID).Msg("Escalation failed")
	}
}

func (p *Pipeline) persist(ctx context.Context, rec *decision.Record) {
	if p.deps.Decisions == nil {
		return
	}
	if err := p.deps.Decisions.Insert(ctx, rec); err != nil {
		log.Warn().Err(err).Str("decision", rec.ID).Msg("Decision audit write failed")
	}
}

func buildPosition(cand domain.Candidate, quantity int, regime catalyst.Context, now time.Time) domain.Position {
	c := cand.Contract
	mode := domain.Covered
	if cand.Strategy == domain.CashSecuredPut {
		mode = domain.CashSecured
	}
	return domain.Position{
		ID:              uuid.New().String(),
		Symbol:          c.Symbol,
		Sector:          cand.Underlying.Sector,
		Broker:          cand.Broker,
		Strike:          c.Strike,
		Expiration:      c.Expiration,
		Type:            c.Type,
		Mode:            mode,
		Quantity:        quantity,
		EntryPremium:    c.Mid(),
		CurrentPremium:  c.Mid(),
		EntryDate:       now,
		Delta:           c.Delta,
		Gamma:           c.Gamma,
		Vega:            c.Vega,
		ImpliedVol:      c.ImpliedVol,
		TrailingAvgIV:   c.ImpliedVol,
		EntryVIX:        regime.VIX,
		EntrySpreadPct:  c.SpreadPct(),
		SpreadPct:       c.SpreadPct(),
		UnderlyingPrice: cand.Underlying.Price,
	}
}
