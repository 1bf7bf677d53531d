package sizing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

var sizeTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

// bookPosition builds an existing cash-secured put on a $1M portfolio:
// vega-notional contribution = vega x qty x 100 x 40 / 1,000,000.
func bookPosition(id string, vega float64, qty int) domain.Position {
	return domain.Position{
		ID:              id,
		Symbol:          "XYZ" + id,
		Sector:          "technology",
		Broker:          "ibkr",
		Strike:          40.0,
		Expiration:      sizeTime.AddDate(0, 0, 30),
		Type:            domain.Put,
		Mode:            domain.CashSecured,
		Quantity:        qty,
		EntryPremium:    1.00,
		CurrentPremium:  1.00,
		EntryDate:       sizeTime.AddDate(0, 0, -5),
		Delta:           -0.05,
		Gamma:           0.001,
		Vega:            vega,
		ImpliedVol:      0.20,
		UnderlyingPrice: 40.0,
	}
}

// putCandidate contributes vega x 100 x 40 / 1,000,000 vega-notional per contract
func putCandidate(vega float64) domain.Candidate {
	return domain.Candidate{
		Contract: domain.OptionContract{
			Symbol:       "KO",
			Strike:       40.0,
			Expiration:   sizeTime.AddDate(0, 0, 30),
			Type:         domain.Put,
			Delta:        -0.05,
			Gamma:        0.001,
			Vega:         vega,
			ImpliedVol:   0.22,
			IVPercentile: 50,
			Bid:          0.95,
			Ask:          1.05,
			OpenInterest: 2000,
		},
		Underlying: domain.Underlying{
			Symbol:       "KO",
			Sector:       "consumer_staples",
			Price:        40.0,
			CreditRating: "A",
		},
		Strategy: domain.CashSecuredPut,
		Broker:   "schwab",
	}
}

func testSizer(t *testing.T, positions ...domain.Position) (*Sizer, *risk.Aggregator) {
	t.Helper()
	pf := &domain.Portfolio{
		Cash:             500000.0,
		TotalValue:       1000000.0,
		Positions:        positions,
		Shares:           map[string]int{"MSFT": 500},
		SectorExposure:   map[string]float64{},
		BrokerAllocation: map[string]float64{},
	}
	agg := risk.NewAggregator(
		pf,
		risk.NewParametricModel(),
		risk.NewCorrelationTracker(63),
		risk.DefaultLimits(),
		catalyst.DefaultMultiplierTable(),
		catalyst.DefaultClassifierConfig(),
	)
	_, err := agg.Recompute(context.Background(), sizeTime)
	require.NoError(t, err)
	return NewSizer(DefaultConfig(), agg, catalyst.DefaultMultiplierTable()), agg
}

func normalRegime() catalyst.Context {
	return catalyst.Context{Regime: catalyst.Normal, VIX: 18, Timestamp: sizeTime}
}

func TestSize_RequestedQuantityWithinVegaCapacity(t *testing.T) {
	// Existing book at 1.2% vega-notional against the 2% cap
	s, _ := testSizer(t, bookPosition("a", 0.30, 10))

	// 0.0012 vega-notional per contract: 5 contracts add 0.6%, total 1.8%
	res, err := s.Size(putCandidate(0.30), 5, normalRegime())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.Equal(t, ConstraintRequested, res.BindingConstraint)
	assert.Equal(t, 1.0, res.Multiplier)
	// Remaining 0.8% / 0.12% per contract caps the Greeks constraint at 6
	assert.Equal(t, 6, res.Caps[ConstraintGreeks])
}

func TestSize_VegaCapacityExhausted(t *testing.T) {
	// Book already at 1.8%; candidate carries 0.5% per contract
	s, _ := testSizer(t, bookPosition("a", 0.30, 10), bookPosition("b", 0.30, 5))

	res, err := s.Size(putCandidate(1.25), 1, normalRegime())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
	assert.Zero(t, res.Quantity)
	assert.Equal(t, ConstraintGreeks, res.BindingConstraint)
}

func TestSize_UnrequestedUsesMaxAllowable(t *testing.T) {
	s, _ := testSizer(t, bookPosition("a", 0.30, 10))

	res, err := s.Size(putCandidate(0.30), 0, normalRegime())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Quantity)
	assert.Equal(t, ConstraintGreeks, res.BindingConstraint)
	assert.NotContains(t, res.Caps, ConstraintRequested)
}

func TestSize_RegimeMultiplierScalesDown(t *testing.T) {
	s, agg := testSizer(t, bookPosition("a", 0.30, 10))
	hv := catalyst.Context{Regime: catalyst.HighVolatility, VIX: 34, Timestamp: sizeTime}
	agg.SetRegime(hv)

	// HighVolatility tightens the vega bound to 1.4%: remaining 0.2% allows
	// one contract, then the 0.4 size multiplier floors it to zero.
	_, err := s.Size(putCandidate(0.30), 10, hv)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
}

func TestSize_CashConstrainsPuts(t *testing.T) {
	s, _ := testSizer(t)

	// $500k available cash / $40k collateral per contract = 12 contracts,
	// but the 5% position ceiling ($50k) allows only 1 at a $400 strike.
	big := putCandidate(0.30)
	big.Contract.Strike = 400.0
	big.Underlying.Price = 400.0

	res, err := s.Size(big, 50, normalRegime())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Quantity)
	assert.Equal(t, ConstraintMaxPct, res.BindingConstraint)
	assert.Equal(t, 12, res.Caps[ConstraintCash])
}

func TestSize_PledgedCollateralReducesCash(t *testing.T) {
	// One hundred 40-strike puts pledge $400k of the $500k cash
	s, _ := testSizer(t, bookPosition("a", 0.01, 100))

	res, err := s.Size(putCandidate(0.05), 50, normalRegime())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Caps[ConstraintCash], "(500k - 400k) / 4k")
}

func TestSize_CoveredCallBoundByUncoveredLots(t *testing.T) {
	s, _ := testSizer(t)

	cc := domain.Candidate{
		Contract: domain.OptionContract{
			Symbol:     "MSFT",
			Strike:     420.0,
			Expiration: sizeTime.AddDate(0, 0, 30),
			Type:       domain.Call,
			Delta:      0.25,
			Vega:       0.40,
			ImpliedVol: 0.25,
		},
		Underlying: domain.Underlying{Symbol: "MSFT", Sector: "technology", Price: 400.0},
		Strategy:   domain.CoveredCall,
		Broker:     "ibkr",
	}

	res, err := s.Size(cc, 10, normalRegime())
	require.NoError(t, err)
	// 500 shares = 5 lots; the 5% ceiling at $40k/contract allows 1
	assert.Equal(t, 5, res.Caps[ConstraintShares])
	assert.Equal(t, 1, res.Quantity)
	assert.Equal(t, ConstraintMaxPct, res.BindingConstraint)
}

func TestUncoveredLots(t *testing.T) {
	pf := &domain.Portfolio{
		Shares: map[string]int{"MSFT": 500},
		Positions: []domain.Position{
			{Symbol: "MSFT", Mode: domain.Covered, Quantity: 3},
			{Symbol: "MSFT", Mode: domain.CashSecured, Quantity: 4},
			{Symbol: "AAPL", Mode: domain.Covered, Quantity: 2},
		},
	}
	assert.Equal(t, 2, uncoveredLots(pf, "MSFT"))
	assert.Equal(t, 0, uncoveredLots(pf, "AAPL"))
}

func TestSize_PositionCountFull(t *testing.T) {
	positions := make([]domain.Position, 0, 10)
	for i := 0; i < 10; i++ {
		positions = append(positions, bookPosition(string(rune('a'+i)), 0.01, 1))
	}
	s, _ := testSizer(t, positions...)

	res, err := s.Size(putCandidate(0.30), 1, normalRegime())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
	assert.Equal(t, ConstraintPositionCount, res.BindingConstraint)
}

func TestSize_SectorCapacity(t *testing.T) {
	s, _ := testSizer(t, bookPosition("a", 0.05, 10))

	// Same sector as the book: 25% cap minus 4% used leaves $210k, 52 contracts
	sameSector := putCandidate(0.05)
	sameSector.Underlying.Sector = "technology"

	res, err := s.Size(sameSector, 100, normalRegime())
	require.NoError(t, err)
	assert.Equal(t, 52, res.Caps[ConstraintSector])
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{MaxPositionPct: 0}.Validate(), domain.ErrConfigInvalid)
	assert.ErrorIs(t, Config{MaxPositionPct: 1.5}.Validate(), domain.ErrConfigInvalid)
}
