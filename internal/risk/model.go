package risk

import (
	"math"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// LossModel estimates the portfolio loss distribution tail. The numerical
// method is pluggable behind this interface; the aggregator only depends on
// the VaR(95%) / ES(97.5%) contract.
type LossModel interface {
	Name() string
	Estimate(positions []domain.Position, corr *Matrix, portfolioValue float64) (var95, es975 float64)
}

// ParametricModel implements a delta-normal variance-covariance estimate.
// Each position's one-day P&L standard deviation is approximated from its
// delta exposure and implied (falling back to historical) volatility, then
// combined through the correlation matrix.
type ParametricModel struct {
	// DefaultCorrelation is used for pairs without enough return history
	DefaultCorrelation float64

	// TradingDays annualization basis for daily vol
	TradingDays float64
}

// NewParametricModel returns the production delta-normal model
func NewParametricModel() *ParametricModel {
	return &ParametricModel{
		DefaultCorrelation: 0.30,
		TradingDays:        252.0,
	}
}

func (m *ParametricModel) Name() string { return "parametric_delta_normal" }

// Quantile constants for the normal distribution: z at 95%, and the
// conditional tail expectation multiplier phi(z)/(1-a) at 97.5%.
const (
	z95       = 1.645
	esMult975 = 2.338
)

// Estimate computes VaR(95%) and ES(97.5%) in dollars for one day
func (m *ParametricModel) Estimate(positions []domain.Position, corr *Matrix, portfolioValue float64) (float64, float64) {
	n := len(positions)
	if n == 0 || portfolioValue <= 0 {
		return 0, 0
	}

	// Per-position daily P&L sigma via delta exposure
	sigmas := make([]float64, n)
	for i, p := range positions {
		vol := p.ImpliedVol
		if vol <= 0 {
			vol = p.TrailingAvgIV
		}
		dailyVol := vol / math.Sqrt(m.TradingDays)
		exposure := math.Abs(p.Delta) * float64(p.Quantity) * 100.0 * p.UnderlyingPrice
		sigmas[i] = exposure * dailyVol
	}

	// Combine through the correlation matrix
	var variance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rho := 1.0
			if i != j {
				rho = corr.At(positions[i].Symbol, positions[j].Symbol, 0)
				if rho == 0 {
					rho = m.DefaultCorrelation
				}
			}
			variance += sigmas[i] * sigmas[j] * rho
		}
	}
	sigma := math.Sqrt(variance)

	return z95 * sigma, esMult975 * sigma
}
