package app

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/gates"
	"github.com/wheelhouse/wheelhouse/internal/risk"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

var propertySectors = []string{"technology", "consumer_staples", "healthcare", "energy", "financials"}
var propertyBrokers = []string{"ibkr", "schwab", "fidelity"}

func randomCandidate(rng *rand.Rand, symbol string) domain.Candidate {
	strike := 20.0 + rng.Float64()*40.0
	return domain.Candidate{
		Contract: domain.OptionContract{
			Symbol:       symbol,
			Strike:       strike,
			Expiration:   time.Now().AddDate(0, 0, 25+rng.Intn(20)),
			Type:         domain.Put,
			Delta:        -(0.15 + rng.Float64()*0.15),
			Gamma:        0.001 + rng.Float64()*0.002,
			Vega:         0.05 + rng.Float64()*0.35,
			ImpliedVol:   0.20 + rng.Float64()*0.30,
			IVPercentile: 35 + rng.Float64()*50,
			Bid:          0.90 + rng.Float64()*0.5,
			Ask:          1.00 + rng.Float64()*0.6,
			OpenInterest: 500 + rng.Int63n(5000),
		},
		Underlying: domain.Underlying{
			Symbol:       symbol,
			Sector:       propertySectors[rng.Intn(len(propertySectors))],
			Price:        strike * (1.0 + rng.Float64()*0.1),
			CreditRating: "A",
			PutCallRatio: 0.5 + rng.Float64()*0.6,
		},
		Strategy: domain.CashSecuredPut,
		Broker:   propertyBrokers[rng.Intn(len(propertyBrokers))],
	}
}

func randomBook(rng *rand.Rand, n int) []domain.Position {
	positions := make([]domain.Position, 0, n)
	for i := 0; i < n; i++ {
		strike := 20.0 + rng.Float64()*40.0
		positions = append(positions, domain.Position{
			ID:              fmt.Sprintf("book-%d", i),
			Symbol:          fmt.Sprintf("BK%d", i),
			Sector:          propertySectors[rng.Intn(len(propertySectors))],
			Broker:          propertyBrokers[rng.Intn(len(propertyBrokers))],
			Strike:          strike,
			Expiration:      time.Now().AddDate(0, 0, 30),
			Type:            domain.Put,
			Mode:            domain.CashSecured,
			Quantity:        1 + rng.Intn(8),
			EntryPremium:    1.00,
			CurrentPremium:  1.00,
			EntryDate:       time.Now().AddDate(0, 0, -5),
			Delta:           -(0.05 + rng.Float64()*0.20),
			Gamma:           0.001 + rng.Float64()*0.002,
			Vega:            0.05 + rng.Float64()*0.30,
			ImpliedVol:      0.20 + rng.Float64()*0.20,
			UnderlyingPrice: strike,
		})
	}
	return positions
}

// Whatever the random portfolio and candidate, a sized commit never leaves
// any regime-adjusted portfolio bound exceeded.
func TestProperty_PostCommitWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	regimes := catalyst.AllRegimes()

	limits := risk.DefaultLimits()
	// Tail-risk bounds wide open: this property isolates the Greek, sector,
	// broker, and count caps that sizing reasons about directly
	limits.MaxVaRPct = 1.0
	limits.MaxESPct = 1.5

	sized := 0
	for i := 0; i < 150; i++ {
		pf := &domain.Portfolio{
			Cash:             300000.0 + rng.Float64()*500000.0,
			TotalValue:       1000000.0,
			Positions:        randomBook(rng, rng.Intn(6)),
			Shares:           map[string]int{},
			SectorExposure:   map[string]float64{},
			BrokerAllocation: map[string]float64{},
		}
		agg := risk.NewAggregator(
			pf,
			risk.NewParametricModel(),
			risk.NewCorrelationTracker(63),
			limits,
			catalyst.DefaultMultiplierTable(),
			catalyst.DefaultClassifierConfig(),
		)
		regime := catalyst.Context{
			Regime:    regimes[rng.Intn(len(regimes))],
			VIX:       12 + rng.Float64()*35,
			Timestamp: time.Now(),
		}
		agg.SetRegime(regime)
		_, err := agg.Recompute(context.Background(), time.Now())
		require.NoError(t, err)

		sizer := sizing.NewSizer(sizing.DefaultConfig(), agg, catalyst.DefaultMultiplierTable())
		cand := randomCandidate(rng, fmt.Sprintf("CAND%d", i))

		res, err := sizer.Size(cand, 0, regime)
		if err != nil {
			continue // Capacity exhaustion is a normal outcome
		}
		sized++

		pos := buildPosition(cand, res.Quantity, regime, time.Now())
		require.NoError(t, agg.Commit(context.Background(), pos, time.Now()),
			"iteration %d: sized quantity %d (binding %s) must commit", i, res.Quantity, res.BindingConstraint)

		snap := agg.Snapshot()
		bounds := agg.Bounds()
		assert.LessOrEqual(t, snap.VegaNotionalPct, bounds.VegaNotionalPct+1e-9, "iteration %d", i)
		assert.LessOrEqual(t, absFloat(snap.NetDelta), bounds.NetDelta+1e-9, "iteration %d", i)
		assert.LessOrEqual(t, absFloat(snap.NetGamma), bounds.NetGamma+1e-9, "iteration %d", i)
		assert.LessOrEqual(t, snap.SectorExposure[cand.Underlying.Sector], bounds.SectorCapPct+1e-9, "iteration %d", i)
		assert.LessOrEqual(t, snap.BrokerAllocation[cand.Broker], bounds.BrokerPct+1e-9, "iteration %d", i)
		assert.LessOrEqual(t, snap.PositionCount, bounds.MaxPositions, "iteration %d", i)
	}

	// The generator must actually exercise the commit path
	assert.Greater(t, sized, 30, "too few sized iterations to trust the property")
}

// A candidate with any hard-filter failure is never approved, whatever its
// numeric scores.
func TestProperty_HardFailureNeverApproved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	screener := gates.NewScreener(gates.DefaultStrategyThresholds(), gates.DefaultSoftWeights(), catalyst.DefaultMultiplierTable())
	scorer := decision.NewScorer(decision.DefaultWeights(), decision.DefaultBands())

	pf := &domain.Portfolio{
		Cash:             200000.0,
		TotalValue:       1000000.0,
		Shares:           map[string]int{},
		SectorExposure:   map[string]float64{},
		BrokerAllocation: map[string]float64{},
	}
	regime := catalyst.Context{Regime: catalyst.Normal, VIX: 18, Timestamp: time.Now()}

	for i := 0; i < 200; i++ {
		cand := randomCandidate(rng, fmt.Sprintf("HF%d", i))
		switch rng.Intn(3) {
		case 0:
			cand.Contract.OpenInterest = rng.Int63n(400) // Below the liquidity floor
		case 1:
			cand.Contract.Delta = 0 // Feed dropped the Greeks
			cand.Contract.Vega = 0
		case 2:
			cand.Contract.Strike = 3000.0 // Collateral beyond available cash
		}

		screening, err := screener.Screen(context.Background(), cand, regime, pf)
		require.NoError(t, err)
		require.NotEmpty(t, screening.HardFailures, "iteration %d: defect must register", i)

		// Even perfect interpretive and risk inputs cannot rescue it
		rec := scorer.Decide(screening, 10.0, false, 10.0)
		assert.Equal(t, decision.Rejected, rec.Outcome, "iteration %d", i)
		assert.Zero(t, rec.FinalScore, "iteration %d", i)
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
