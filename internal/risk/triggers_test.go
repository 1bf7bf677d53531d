package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

func stopPosition() domain.Position {
	return domain.Position{
		ID:              "s1",
		Symbol:          "KO",
		Sector:          "staples",
		Broker:          "ibkr",
		Strike:          60.0,
		Type:            domain.Put,
		Mode:            domain.CashSecured,
		Quantity:        5,
		EntryPremium:    3.00,
		CurrentPremium:  3.00,
		EntryDate:       riskTime.AddDate(0, 0, -10),
		Delta:           -0.20,
		Gamma:           0.002,
		Vega:            0.15,
		ImpliedVol:      0.22,
		TrailingAvgIV:   0.22,
		EntryVIX:        18.0,
		EntrySpreadPct:  0.03,
		SpreadPct:       0.03,
		UnderlyingPrice: 62.0,
	}
}

func TestEvaluateTriggers_PremiumDecayStopLoss(t *testing.T) {
	// Entry premium $3.00 decayed to $2.40: exactly 20%
	pos := stopPosition()
	pos.CurrentPremium = 2.40

	a := testAggregator(pos)
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	directives := a.EvaluateTriggers(DefaultTriggerConfig(), 18.0, riskTime)
	require.Len(t, directives, 1)
	d := directives[0]
	assert.Equal(t, StopLossDirective, d.Type)
	assert.Equal(t, "s1", d.PositionID)
	assert.Equal(t, "premium_decay", d.Reason)
}

func TestEvaluateTriggers_NoDecayNoDirective(t *testing.T) {
	pos := stopPosition()
	pos.CurrentPremium = 2.50 // ~16.7% decay, under threshold

	a := testAggregator(pos)
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	directives := a.EvaluateTriggers(DefaultTriggerConfig(), 18.0, riskTime)
	assert.Empty(t, directives)
}

func TestEvaluateTriggers_VolatilitySpikes(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*domain.Position)
		currentVIX float64
		reason     string
	}{
		{
			name:       "vix spike from entry",
			mutate:     func(p *domain.Position) {},
			currentVIX: 25.0, // +39% from entry 18
			reason:     "vix_spike",
		},
		{
			name: "iv above trailing multiple",
			mutate: func(p *domain.Position) {
				p.ImpliedVol = 0.36 // >= 1.5 x 0.22
			},
			currentVIX: 18.0,
			reason:     "iv_spike",
		},
		{
			name: "spread widening",
			mutate: func(p *domain.Position) {
				p.SpreadPct = 0.10 // >= 3 x 0.03
			},
			currentVIX: 18.0,
			reason:     "spread_widening",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := stopPosition()
			tt.mutate(&pos)

			a := testAggregator(pos)
			_, err := a.Recompute(context.Background(), riskTime)
			require.NoError(t, err)

			directives := a.EvaluateTriggers(DefaultTriggerConfig(), tt.currentVIX, riskTime)
			require.Len(t, directives, 1)
			assert.Equal(t, tt.reason, directives[0].Reason)
		})
	}
}

func TestEvaluateTriggers_DecayTakesPrecedence(t *testing.T) {
	pos := stopPosition()
	pos.CurrentPremium = 2.00 // 33% decay
	pos.ImpliedVol = 0.50     // Also an IV spike

	a := testAggregator(pos)
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	directives := a.EvaluateTriggers(DefaultTriggerConfig(), 30.0, riskTime)
	require.Len(t, directives, 1)
	assert.Equal(t, "premium_decay", directives[0].Reason)
}

func TestEvaluateTriggers_RebalanceOnBreach(t *testing.T) {
	// Vega-notional 3% against the 2% cap, beyond the 5% tolerance
	a := testAggregator(vegaPosition("v", 0.75, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	directives := a.EvaluateTriggers(DefaultTriggerConfig(), 18.0, riskTime)
	require.NotEmpty(t, directives)

	var rebalance *Directive
	for i := range directives {
		if directives[i].Type == RebalanceDirective && directives[i].Limit == LimitVega {
			rebalance = &directives[i]
		}
	}
	require.NotNil(t, rebalance, "expected a vega rebalance directive")
	// Usage 3%, bound 2%: reduce by a third to return to the limit
	assert.InDelta(t, 1.0/3.0, rebalance.TargetReductionPct, 1e-6)
}

func TestEvaluateTriggers_ToleranceMarginHolds(t *testing.T) {
	// Vega-notional 2.04%: above the cap but inside the 5% tolerance
	a := testAggregator(vegaPosition("v", 0.51, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	for _, d := range a.EvaluateTriggers(DefaultTriggerConfig(), 18.0, riskTime) {
		assert.NotEqual(t, RebalanceDirective, d.Type, "within tolerance, no rebalance expected")
	}
}

func TestEvaluateTriggers_RegimeTighteningTriggersRebalance(t *testing.T) {
	// 1.6% vega is fine under Normal but breaches the HighVolatility cap
	// of 2% x 0.70 = 1.4% beyond tolerance.
	a := testAggregator(vegaPosition("v", 0.40, 10))
	_, err := a.Recompute(context.Background(), riskTime)
	require.NoError(t, err)

	assert.Empty(t, filterRebalance(a.EvaluateTriggers(DefaultTriggerConfig(), 18.0, riskTime)))

	a.SetRegime(catalyst.Context{Regime: catalyst.HighVolatility, VIX: 34.0, Timestamp: riskTime})
	breaches := filterRebalance(a.EvaluateTriggers(DefaultTriggerConfig(), 34.0, riskTime))
	require.NotEmpty(t, breaches)
	assert.Equal(t, LimitVega, breaches[0].Limit)
}

func filterRebalance(ds []Directive) []Directive {
	var out []Directive
	for _, d := range ds {
		if d.Type == RebalanceDirective {
			out = append(out, d)
		}
	}
	return out
}
