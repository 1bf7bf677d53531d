package gates

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

var screenTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func testScreener() *Screener {
	s := NewScreener(DefaultStrategyThresholds(), DefaultSoftWeights(), catalyst.DefaultMultiplierTable())
	s.now = func() time.Time { return screenTime }
	return s
}

func putCandidate() domain.Candidate {
	return domain.Candidate{
		Strategy: domain.CashSecuredPut,
		Broker:   "ibkr",
		Underlying: domain.Underlying{
			Symbol:       "MSFT",
			Sector:       "technology",
			Price:        410.0,
			CreditRating: "AAA",
			Beta:         0.95,
			HistVol:      0.22,
			PutCallRatio: 0.90,
		},
		Contract: domain.OptionContract{
			Symbol:       "MSFT",
			Strike:       380.0,
			Expiration:   screenTime.AddDate(0, 0, 30),
			Type:         domain.Put,
			Delta:        -0.22,
			Gamma:        0.004,
			Theta:        -0.15,
			Vega:         0.45,
			Rho:          -0.10,
			ImpliedVol:   0.26,
			IVPercentile: 55.0,
			Bid:          6.10,
			Ask:          6.40,
			OpenInterest: 2400,
			Volume:       800,
		},
	}
}

func callCandidate() domain.Candidate {
	c := putCandidate()
	c.Strategy = domain.CoveredCall
	c.Contract.Type = domain.Call
	c.Contract.Strike = 440.0
	c.Contract.Delta = 0.25
	return c
}

func testPortfolio() *domain.Portfolio {
	return &domain.Portfolio{
		Cash:       200000.0,
		TotalValue: 1000000.0,
		Shares:     map[string]int{"MSFT": 300},
		SectorExposure: map[string]float64{
			"technology": 0.10,
		},
		BrokerAllocation: map[string]float64{"ibkr": 0.40},
	}
}

func normalRegime() catalyst.Context {
	return catalyst.Context{Regime: catalyst.Normal, VIX: 18.0, Timestamp: screenTime}
}

func TestScreen_CleanPutPasses(t *testing.T) {
	s := testScreener()

	result, err := s.Screen(context.Background(), putCandidate(), normalRegime(), testPortfolio())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Empty(t, result.HardFailures)
	assert.Greater(t, result.QuantScore, 5.0)
	assert.LessOrEqual(t, result.QuantScore, 10.0)

	// All four hard gates reported
	for _, name := range []string{"cash_available", "open_interest", "spread", "earnings_proximity", "data_complete"} {
		check, ok := result.Checks[name]
		require.True(t, ok, "missing check %s", name)
		assert.True(t, check.Passed, "check %s should pass", name)
	}
}

func TestScreen_InsufficientCashRejects(t *testing.T) {
	s := testScreener()
	pf := testPortfolio()
	pf.Cash = 10000.0 // Put needs $38,000 collateral

	result, err := s.Screen(context.Background(), putCandidate(), normalRegime(), pf)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.NotEmpty(t, result.HardFailures)
	assert.Contains(t, result.HardFailures[0], "collateral")
	assert.Zero(t, result.QuantScore, "quant score must be zero after a hard failure")
}

func TestScreen_ReservedCollateralCounts(t *testing.T) {
	s := testScreener()
	pf := testPortfolio()
	// Existing cash-secured put pledges most of the cash
	pf.Positions = []domain.Position{{
		ID: "p1", Symbol: "KO", Mode: domain.CashSecured,
		Strike: 60.0, Quantity: 30, // $180,000 reserved
	}}

	result, err := s.Screen(context.Background(), putCandidate(), normalRegime(), pf)
	require.NoError(t, err)
	assert.False(t, result.Passed, "pledged collateral must reduce available cash")
}

func TestScreen_CoveredCallRequiresShares(t *testing.T) {
	s := testScreener()
	pf := testPortfolio()
	pf.Shares["MSFT"] = 40

	result, err := s.Screen(context.Background(), callCandidate(), normalRegime(), pf)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.HardFailures[0], "shares")
}

func TestScreen_IlliquidContractRejects(t *testing.T) {
	s := testScreener()

	cand := putCandidate()
	cand.Contract.OpenInterest = 50
	result, err := s.Screen(context.Background(), cand, normalRegime(), testPortfolio())
	require.NoError(t, err)
	assert.False(t, result.Passed)

	cand = putCandidate()
	cand.Contract.Bid = 5.00
	cand.Contract.Ask = 7.00 // ~33% of mid
	result, err = s.Screen(context.Background(), cand, normalRegime(), testPortfolio())
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestScreen_EarningsExclusionWindow(t *testing.T) {
	s := testScreener()

	// 3-day default window under Normal: earnings in 2 days rejects
	regime := normalRegime()
	regime.DaysToEarnings = map[string]int{"MSFT": 2}
	result, err := s.Screen(context.Background(), putCandidate(), regime, testPortfolio())
	require.NoError(t, err)
	assert.False(t, result.Passed)

	// Earnings in 4 days passes under Normal
	regime.DaysToEarnings = map[string]int{"MSFT": 4}
	result, err = s.Screen(context.Background(), putCandidate(), regime, testPortfolio())
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// Same 4 days rejects under the Earnings regime's widened window
	regime.Regime = catalyst.Earnings
	result, err = s.Screen(context.Background(), putCandidate(), regime, testPortfolio())
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestScreen_MissingGreeksIsDataUnavailable(t *testing.T) {
	s := testScreener()

	cand := putCandidate()
	cand.Contract.Delta = 0
	cand.Contract.Vega = 0

	result, err := s.Screen(context.Background(), cand, normalRegime(), testPortfolio())
	require.NoError(t, err)
	assert.False(t, result.Passed)

	found := false
	for _, reason := range result.HardFailures {
		if strings.Contains(reason, "DataUnavailable") {
			found = true
		}
	}
	assert.True(t, found, "rejection reasons should name DataUnavailable: %v", result.HardFailures)
}

func TestScreen_RegimeNarrowsDeltaWindow(t *testing.T) {
	s := testScreener()

	// Delta 0.29 sits inside the CSP window [0.15, 0.30] under Normal
	cand := putCandidate()
	cand.Contract.Delta = -0.29

	result, err := s.Screen(context.Background(), cand, normalRegime(), testPortfolio())
	require.NoError(t, err)
	normalScore := result.Checks["delta_window"].Score
	assert.Equal(t, 1.0, normalScore)

	// Under SectorCrisis the window narrows (scale 0.60) and 0.29 falls outside
	crisis := catalyst.Context{Regime: catalyst.SectorCrisis, VIX: 38.0, SectorEvents: []string{"energy"}, Timestamp: screenTime}
	result, err = s.Screen(context.Background(), cand, crisis, testPortfolio())
	require.NoError(t, err)
	assert.Less(t, result.Checks["delta_window"].Score, 1.0)
}

func TestScreen_SectorCapacitySubScore(t *testing.T) {
	s := testScreener()
	pf := testPortfolio()
	pf.SectorExposure["technology"] = 0.24 // Nearly at the 25% Normal cap

	result, err := s.Screen(context.Background(), putCandidate(), normalRegime(), pf)
	require.NoError(t, err)
	assert.Less(t, result.Checks["sector_capacity"].Score, 0.10)
}

func TestScreen_CancelledContext(t *testing.T) {
	s := testScreener()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Screen(ctx, putCandidate(), normalRegime(), testPortfolio())
	assert.Error(t, err)
}
