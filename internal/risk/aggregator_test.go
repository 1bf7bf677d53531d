package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

var riskTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

// vegaPosition builds a cash-secured put contributing the given fraction of
// a $1M portfolio as vega-notional: vega x qty x 100 x price / 1,000,000.
func vegaPosition(id string, vega float64, qty int) domain.Position {
	return domain.Position{
		ID:              id,
		Symbol:          "XYZ" + id,
		Sector:          "technology",
		Broker:          "ibkr",
		Strike:          40.0,
		Expiration:      riskTime.AddDate(0, 0, 30),
		Type:            domain.Put,
		Mode:            domain.CashSecured,
		Quantity:        qty,
		EntryPremium:    1.00,
		CurrentPremium:  1.00,
		EntryDate:       riskTime.AddDate(0, 0, -5),
		Delta:           -0.05,
		Gamma:           0.001,
		Vega:            vega,
		ImpliedVol:      0.20,
		UnderlyingPrice: 40.0,
	}
}

func testAggregator(positions ...domain.Position) *Aggregator {
	pf := &domain.Portfolio{
		Cash:             500000.0,
		TotalValue:       1000000.0,
		Positions:        positions,
		Shares:           map[string]int{},
		SectorExposure:   map[string]float64{},
		BrokerAllocation: map[string]float64{},
	}
	return NewAggregator(
		pf,
		NewParametricModel(),
		NewCorrelationTracker(63),
		DefaultLimits(),
		catalyst.DefaultMultiplierTable(),
		catalyst.DefaultClassifierConfig(),
	)
}

func TestRecompute_PortfolioAggregates(t *testing.T) {
	// One position: delta -0.05, 10 contracts, price 40, value 1M
	a := testAggregator(vegaPosition("a", 0.30, 10))

	snap, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	// net delta = -0.05 * 10 * 100 * 40 / 1,000,000 = -0.002
	assert.InDelta(t, -0.002, snap.NetDelta, 1e-9)
	// net gamma = 0.001 * 10 * 100 * 40 / 1,000,000 = 0.00004
	assert.InDelta(t, 0.00004, snap.NetGamma, 1e-9)
	// vega notional = 0.30 * 10 * 100 * 40 / 1,000,000 = 1.2%
	assert.InDelta(t, 0.012, snap.VegaNotionalPct, 1e-9)

	assert.Equal(t, 1, snap.PositionCount)
	assert.Greater(t, snap.VaR95, 0.0)
	assert.Greater(t, snap.ES975, snap.VaR95, "ES(97.5%) must exceed VaR(95%)")
	// Sector notional = 40 strike * 100 * 10 = $40,000 -> 4%
	assert.InDelta(t, 0.04, snap.SectorExposure["technology"], 1e-9)
}

func TestRecompute_Idempotent(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10), vegaPosition("b", 0.25, 4))

	first, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)
	second, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	assert.Equal(t, first, second, "recomputing an unchanged portfolio must be idempotent")
}

func TestStaleAndEnsureFresh(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10))

	assert.True(t, a.Stale(riskTime), "no snapshot yet")

	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)
	assert.False(t, a.Stale(riskTime.Add(10*time.Minute)))
	assert.True(t, a.Stale(riskTime.Add(16*time.Minute)))

	// EnsureFresh recomputes past the window
	snap, err := a.EnsureFresh(context.Background(), riskTime.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, riskTime.Add(20*time.Minute), snap.Timestamp)
}

func TestHeadroom_Fractions(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10)) // vega 1.2% of the 2% cap
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	// 1 - 0.012/0.02 = 0.4
	assert.InDelta(t, 0.40, a.Headroom(LimitVega), 1e-6)
	// 1 of 10 positions used
	assert.InDelta(t, 0.90, a.Headroom(LimitPositionCount), 1e-6)
	// Sector 4% of 25% cap
	assert.InDelta(t, 0.84, a.Headroom(LimitSector), 1e-6)

	hs := a.Headrooms()
	assert.Len(t, hs, len(AllLimits()))
	for kind, h := range hs {
		assert.GreaterOrEqual(t, h, 0.0, "%s", kind)
		assert.LessOrEqual(t, h, 1.0, "%s", kind)
	}

	factor := a.AdjustmentFactor()
	assert.Greater(t, factor, 0.0)
	assert.LessOrEqual(t, factor, 10.0)
}

func TestHeadroom_TightensUnderStress(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	normalVega := a.Headroom(LimitVega)

	a.SetRegime(catalyst.Context{Regime: catalyst.HighVolatility, VIX: 35.0, Timestamp: riskTime})
	stressedVega := a.Headroom(LimitVega)

	// Tightening factor 0.70 shrinks the cap to 1.4%; 1.2% used leaves less room
	assert.Less(t, stressedVega, normalVega)
}

func TestCommit_VegaCapacityScenario(t *testing.T) {
	// $1M portfolio with 1.2% vega-notional already on
	a := testAggregator(vegaPosition("a", 0.30, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	// First candidate adds 0.6% -> 1.8% <= 2% cap: accepted
	first := vegaPosition("b", 0.30, 5)
	require.NoError(t, a.Commit(context.Background(), first, riskTime))
	assert.InDelta(t, 0.018, a.Snapshot().VegaNotionalPct, 1e-9)

	// Second adds 0.5% -> would reach 2.3%: rejected on the vega limit
	second := vegaPosition("c", 0.25, 5)
	err = a.Commit(context.Background(), second, riskTime)
	require.Error(t, err)

	var breach *BreachError
	require.ErrorAs(t, err, &breach)
	assert.Equal(t, LimitVega, breach.Limit)
	assert.ErrorIs(t, err, domain.ErrConcurrentMutation)

	// Portfolio unchanged by the failed commit
	assert.InDelta(t, 0.018, a.Snapshot().VegaNotionalPct, 1e-9)
	assert.Equal(t, 2, a.Snapshot().PositionCount)
}

func TestCommit_CashSecuredCollateralization(t *testing.T) {
	a := testAggregator()
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	// 200 contracts at $40 strike needs $800k; only $500k cash
	big := vegaPosition("big", 0.10, 200)
	err = a.Commit(context.Background(), big, riskTime)
	assert.Error(t, err, "cash-secured put notional must not exceed available cash")
}

func TestCommit_SerializedRace(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	// Two commits race on the remaining 0.8% of vega capacity; each one
	// alone fits, both together do not.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pos := vegaPosition(string(rune('x'+i)), 0.30, 5) // 0.6% each
			errs[i] = a.Commit(context.Background(), pos, riskTime)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, e := range errs {
		if e == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, e, domain.ErrConcurrentMutation)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one racing commit may consume the capacity")
}

func TestClose_RemovesPosition(t *testing.T) {
	a := testAggregator(vegaPosition("a", 0.30, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	require.NoError(t, a.Close(context.Background(), "a", 0.50, riskTime))
	assert.Equal(t, 0, a.Snapshot().PositionCount)

	assert.Error(t, a.Close(context.Background(), "missing", 0.50, riskTime))
}

func TestBreachErrorClassification(t *testing.T) {
	race := &BreachError{Limit: LimitVega, Usage: 0.03, Bound: 0.02}
	assert.ErrorIs(t, race, domain.ErrConcurrentMutation)
	assert.NotErrorIs(t, race, domain.ErrRiskLimitBreach)

	for _, kind := range []LimitKind{LimitVaR, LimitES} {
		exhausted := &BreachError{Limit: kind, Usage: 40000, Bound: 30000}
		assert.ErrorIs(t, exhausted, domain.ErrRiskLimitBreach, string(kind))
		assert.NotErrorIs(t, exhausted, domain.ErrConcurrentMutation, string(kind))
	}
}
