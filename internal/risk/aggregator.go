package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// BreachError reports the limit a commit would violate. For the limits the
// sizer allocates against, a breach seen after a passing sizing pass means
// another commit consumed the capacity first and a resized retry can
// succeed. VaR and ES are never sized against, so their breach is genuine
// exhaustion and unwraps to ErrRiskLimitBreach instead.
type BreachError struct {
	Limit LimitKind
	Usage float64
	Bound float64
}

func (e *BreachError) Error() string {
	return fmt.Sprintf("limit %s breached: usage %.4f exceeds bound %.4f", e.Limit, e.Usage, e.Bound)
}

func (e *BreachError) Unwrap() error {
	switch e.Limit {
	case LimitVaR, LimitES:
		return domain.ErrRiskLimitBreach
	default:
		return domain.ErrConcurrentMutation
	}
}

// Aggregator owns the portfolio and its authoritative risk snapshot. All
// limit-consuming commits serialize through its mutex; readers get clones.
type Aggregator struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
	snapshot  *Snapshot
	model     LossModel
	corr      *CorrelationTracker
	limits    Limits
	table     catalyst.MultiplierTable
	clsConfig catalyst.ClassifierConfig
	regime    catalyst.Context
}

// NewAggregator creates the single risk owner for a portfolio
func NewAggregator(portfolio *domain.Portfolio, model LossModel, corr *CorrelationTracker, limits Limits, table catalyst.MultiplierTable, clsConfig catalyst.ClassifierConfig) *Aggregator {
	return &Aggregator{
		portfolio: portfolio,
		model:     model,
		corr:      corr,
		limits:    limits,
		table:     table,
		clsConfig: clsConfig,
		regime:    catalyst.Context{Regime: catalyst.Normal},
	}
}

// SetRegime installs the current catalyst context; limits tighten or relax
// immediately for subsequent headroom checks.
func (a *Aggregator) SetRegime(regime catalyst.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regime = regime
}

// PortfolioSnapshot returns an immutable copy for screening reads
func (a *Aggregator) PortfolioSnapshot() *domain.Portfolio {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.portfolio.Snapshot()
}

// Snapshot returns the latest risk snapshot clone, possibly stale
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot.Clone()
}

// Recompute rebuilds the risk snapshot from the owned portfolio. Running it
// twice at the same asOf over an unchanged portfolio yields an identical
// snapshot.
func (a *Aggregator) Recompute(ctx context.Context, asOf time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recomputeLocked(asOf), nil
}

func (a *Aggregator) recomputeLocked(asOf time.Time) *Snapshot {
	snap := a.computeFrom(a.portfolio.Positions, asOf)
	a.snapshot = snap

	// Keep the portfolio's exposure maps in sync for screener reads
	cp := snap.Clone()
	a.portfolio.SectorExposure = cp.SectorExposure
	a.portfolio.BrokerAllocation = cp.BrokerAllocation

	log.Debug().
		Float64("net_delta", snap.NetDelta).
		Float64("net_gamma", snap.NetGamma).
		Float64("vega_pct", snap.VegaNotionalPct).
		Float64("var95", snap.VaR95).
		Int("positions", snap.PositionCount).
		Msg("risk snapshot recomputed")

	return snap.Clone()
}

// computeFrom derives a snapshot for an arbitrary position set, used both
// for real recomputes and commit what-if checks.
func (a *Aggregator) computeFrom(positions []domain.Position, asOf time.Time) *Snapshot {
	value := a.portfolio.TotalValue

	snap := &Snapshot{
		SectorExposure:   make(map[string]float64),
		BrokerAllocation: make(map[string]float64),
		PositionCount:    len(positions),
		PortfolioValue:   value,
		Timestamp:        asOf,
	}
	if value <= 0 {
		return snap
	}

	symbolSet := make(map[string]bool)
	for _, p := range positions {
		contracts := float64(p.Quantity)
		snap.NetDelta += p.Delta * contracts * 100.0 * p.UnderlyingPrice / value
		snap.NetGamma += p.Gamma * contracts * 100.0 * p.UnderlyingPrice / value
		snap.VegaNotionalPct += p.Vega * contracts * 100.0 * p.UnderlyingPrice / value

		snap.SectorExposure[p.Sector] += positionNotional(p) / value
		snap.BrokerAllocation[p.Broker] += positionNotional(p) / value
		symbolSet[p.Symbol] = true
	}

	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	matrix := a.corr.Current(symbols, asOf)
	snap.Correlations = matrix
	snap.VaR95, snap.ES975 = a.model.Estimate(positions, matrix, value)

	return snap
}

// positionNotional is the capital a position binds against sector and
// broker caps.
func positionNotional(p domain.Position) float64 {
	if p.Mode == domain.CashSecured {
		return p.Strike * 100.0 * float64(p.Quantity)
	}
	return p.UnderlyingPrice * 100.0 * float64(p.Quantity)
}

// Stale reports whether the current snapshot exceeds the freshness window
func (a *Aggregator) Stale(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot.Stale(now, a.limits.FreshnessWindow)
}

// EnsureFresh recomputes synchronously when the snapshot is stale. Approval
// paths call this before consuming headroom.
func (a *Aggregator) EnsureFresh(ctx context.Context, now time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshot.Stale(now, a.limits.FreshnessWindow) {
		log.Info().Time("as_of", now).Msg("stale risk snapshot, recomputing before approval")
		return a.recomputeLocked(now), nil
	}
	return a.snapshot.Clone(), nil
}

// effectiveLimits applies the regime's tightening factor. Sector cap and
// position count come straight from the regime table.
type effectiveLimits struct {
	delta, gamma, vega   float64
	sectorCap, brokerCap float64
	maxPositions         int
	varPct, esPct        float64
}

func (a *Aggregator) effectiveLocked() effectiveLimits {
	m := a.table.For(a.regime.Regime)
	return effectiveLimits{
		delta:        a.limits.MaxNetDelta * m.RiskTightening,
		gamma:        a.limits.MaxNetGamma * m.RiskTightening,
		vega:         a.limits.MaxVegaNotionalPct * m.RiskTightening,
		sectorCap:    m.SectorCapPct,
		brokerCap:    a.limits.MaxBrokerPct,
		maxPositions: a.regime.MaxPositions(a.table, a.clsConfig),
		varPct:       a.limits.MaxVaRPct * m.RiskTightening,
		esPct:        a.limits.MaxESPct * m.RiskTightening,
	}
}

// Bounds reports the regime-adjusted limit values currently enforced.
// Consumers that need absolute capacity (the sizer) read these rather than
// re-deriving the tightening arithmetic.
type Bounds struct {
	NetDelta        float64
	NetGamma        float64
	VegaNotionalPct float64
	SectorCapPct    float64
	BrokerPct       float64
	MaxPositions    int
	VaRPct          float64
	ESPct           float64
}

func (a *Aggregator) Bounds() Bounds {
	a.mu.Lock()
	defer a.mu.Unlock()
	eff := a.effectiveLocked()
	return Bounds{
		NetDelta:        eff.delta,
		NetGamma:        eff.gamma,
		VegaNotionalPct: eff.vega,
		SectorCapPct:    eff.sectorCap,
		BrokerPct:       eff.brokerCap,
		MaxPositions:    eff.maxPositions,
		VaRPct:          eff.varPct,
		ESPct:           eff.esPct,
	}
}

// Headroom returns the remaining fraction [0, 1] of one limit
func (a *Aggregator) Headroom(kind LimitKind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.headroomLocked(kind)
}

func (a *Aggregator) headroomLocked(kind LimitKind) float64 {
	snap := a.snapshot
	if snap == nil {
		return 0
	}
	eff := a.effectiveLocked()

	frac := func(usage, bound float64) float64 {
		if bound <= 0 {
			return 0
		}
		h := 1.0 - usage/bound
		if h < 0 {
			return 0
		}
		if h > 1 {
			return 1
		}
		return h
	}

	switch kind {
	case LimitDelta:
		return frac(absf(snap.NetDelta), eff.delta)
	case LimitGamma:
		return frac(absf(snap.NetGamma), eff.gamma)
	case LimitVega:
		return frac(snap.VegaNotionalPct, eff.vega)
	case LimitSector:
		return frac(snap.MaxSectorExposure(), eff.sectorCap)
	case LimitPositionCount:
		return frac(float64(snap.PositionCount), float64(eff.maxPositions))
	case LimitBroker:
		return frac(snap.MaxBrokerAllocation(), eff.brokerCap)
	case LimitVaR:
		return frac(snap.VaR95, eff.varPct*snap.PortfolioValue)
	case LimitES:
		return frac(snap.ES975, eff.esPct*snap.PortfolioValue)
	default:
		return 0
	}
}

// Headrooms returns the remaining fraction for every limit
func (a *Aggregator) Headrooms() map[LimitKind]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[LimitKind]float64, len(AllLimits()))
	for _, k := range AllLimits() {
		out[k] = a.headroomLocked(k)
	}
	return out
}

// AdjustmentFactor condenses aggregate headroom into the 0-10 risk term of
// the decision score: 0 = no headroom anywhere, 10 = ample everywhere.
func (a *Aggregator) AdjustmentFactor() float64 {
	hs := a.Headrooms()
	if len(hs) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range hs {
		sum += h
	}
	return 10.0 * sum / float64(len(hs))
}

// Limits returns the configured base limits
func (a *Aggregator) Limits() Limits { return a.limits }

// Regime returns the catalyst context currently applied to limits
func (a *Aggregator) Regime() catalyst.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regime
}

// Commit atomically performs check-headroom -> reserve -> commit for a new
// position. Every limit is rechecked under the lock with the position
// included; the first violated limit aborts the commit with a BreachError.
// On success the position is applied, the premium credit lands in cash, and
// the snapshot is recomputed.
func (a *Aggregator) Commit(ctx context.Context, pos domain.Position, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	// Cash-secured puts stay fully collateralized
	if pos.Mode == domain.CashSecured {
		if avail := a.portfolio.AvailableCash(); pos.CollateralRequired() > avail {
			return fmt.Errorf("%w: put collateral $%.0f exceeds available cash $%.0f",
				domain.ErrInsufficientCapacity, pos.CollateralRequired(), avail)
		}
	}

	next := make([]domain.Position, len(a.portfolio.Positions), len(a.portfolio.Positions)+1)
	copy(next, a.portfolio.Positions)
	next = append(next, pos)

	what := a.computeFrom(next, asOf)
	eff := a.effectiveLocked()

	checks := []struct {
		kind  LimitKind
		usage float64
		bound float64
	}{
		{LimitPositionCount, float64(what.PositionCount), float64(eff.maxPositions)},
		{LimitSector, what.SectorExposure[pos.Sector], eff.sectorCap},
		{LimitBroker, what.BrokerAllocation[pos.Broker], eff.brokerCap},
		{LimitDelta, absf(what.NetDelta), eff.delta},
		{LimitGamma, absf(what.NetGamma), eff.gamma},
		{LimitVega, what.VegaNotionalPct, eff.vega},
		{LimitVaR, what.VaR95, eff.varPct * what.PortfolioValue},
		{LimitES, what.ES975, eff.esPct * what.PortfolioValue},
	}
	for _, c := range checks {
		if c.usage > c.bound {
			return &BreachError{Limit: c.kind, Usage: c.usage, Bound: c.bound}
		}
	}

	a.portfolio.Positions = next
	a.portfolio.Cash += pos.EntryPremium * 100.0 * float64(pos.Quantity)
	a.recomputeLocked(asOf)

	log.Info().
		Str("position", pos.ID).
		Str("symbol", pos.Symbol).
		Int("quantity", pos.Quantity).
		Str("mode", string(pos.Mode)).
		Msg("position committed")

	return nil
}

// Close removes a position, paying the closing premium out of cash
func (a *Aggregator) Close(ctx context.Context, positionID string, closingPremium float64, asOf time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, p := range a.portfolio.Positions {
		if p.ID == positionID {
			a.portfolio.Cash -= closingPremium * 100.0 * float64(p.Quantity)
			a.portfolio.Positions = append(a.portfolio.Positions[:i], a.portfolio.Positions[i+1:]...)
			a.recomputeLocked(asOf)
			return nil
		}
	}
	return fmt.Errorf("position %s not found", positionID)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
