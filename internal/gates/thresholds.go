package gates

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// Thresholds holds screening thresholds for one strategy before regime
// adjustment.
type Thresholds struct {
	// Hard gate inputs
	MinOpenInterest int64   `yaml:"min_open_interest"` // Contracts outstanding
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`    // Bid-ask spread / mid

	// Soft filter bands
	MinAnnualYield  float64 `yaml:"min_annual_yield"`  // Annualized premium / collateral
	DeltaMin        float64 `yaml:"delta_min"`         // |delta| window lower bound
	DeltaMax        float64 `yaml:"delta_max"`         // |delta| window upper bound
	IVPercentileMin float64 `yaml:"iv_percentile_min"` // 0-100
	IVPercentileMax float64 `yaml:"iv_percentile_max"` // 0-100
	DTEMin          int     `yaml:"dte_min"`           // Days to expiration window
	DTEMax          int     `yaml:"dte_max"`
	MaxPutCallRatio float64 `yaml:"max_put_call_ratio"` // Puts only
	MinCreditRating string  `yaml:"min_credit_rating"`  // Rating floor, e.g. "BBB"
}

// StrategyThresholds maps each strategy to its base thresholds
type StrategyThresholds struct {
	CoveredCall    Thresholds `yaml:"covered_call"`
	CashSecuredPut Thresholds `yaml:"cash_secured_put"`
}

// DefaultStrategyThresholds returns production screening thresholds
func DefaultStrategyThresholds() StrategyThresholds {
	return StrategyThresholds{
		CoveredCall: Thresholds{
			MinOpenInterest: 500,
			MaxSpreadPct:    0.10,
			MinAnnualYield:  0.12,
			DeltaMin:        0.15,
			DeltaMax:        0.35,
			IVPercentileMin: 30.0,
			IVPercentileMax: 85.0,
			DTEMin:          21,
			DTEMax:          45,
			MinCreditRating: "BBB",
		},
		CashSecuredPut: Thresholds{
			MinOpenInterest: 500,
			MaxSpreadPct:    0.10,
			MinAnnualYield:  0.15,
			DeltaMin:        0.15,
			DeltaMax:        0.30,
			IVPercentileMin: 35.0,
			IVPercentileMax: 85.0,
			DTEMin:          21,
			DTEMax:          45,
			MaxPutCallRatio: 1.20,
			MinCreditRating: "BBB",
		},
	}
}

// LoadStrategyThresholds reads threshold overrides from a YAML file
func LoadStrategyThresholds(path string) (StrategyThresholds, error) {
	st := DefaultStrategyThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("failed to read thresholds file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse thresholds file %s: %w", path, err)
	}
	if err := st.Validate(); err != nil {
		return st, err
	}
	return st, nil
}

// Validate rejects malformed threshold sets at startup
func (st StrategyThresholds) Validate() error {
	for _, s := range []struct {
		name string
		t    Thresholds
	}{
		{"covered_call", st.CoveredCall},
		{"cash_secured_put", st.CashSecuredPut},
	} {
		if s.t.DeltaMin < 0 || s.t.DeltaMax <= s.t.DeltaMin {
			return fmt.Errorf("%w: %s delta window [%.2f, %.2f] is inverted",
				domain.ErrConfigInvalid, s.name, s.t.DeltaMin, s.t.DeltaMax)
		}
		if s.t.DTEMin < 0 || s.t.DTEMax <= s.t.DTEMin {
			return fmt.Errorf("%w: %s DTE window [%d, %d] is inverted",
				domain.ErrConfigInvalid, s.name, s.t.DTEMin, s.t.DTEMax)
		}
		if s.t.IVPercentileMax <= s.t.IVPercentileMin {
			return fmt.Errorf("%w: %s IV percentile band is inverted",
				domain.ErrConfigInvalid, s.name)
		}
		if s.t.MinAnnualYield <= 0 {
			return fmt.Errorf("%w: %s minimum annual yield must be positive",
				domain.ErrConfigInvalid, s.name)
		}
		if domain.CreditRatingRank(s.t.MinCreditRating) == 0 {
			return fmt.Errorf("%w: %s unknown credit rating floor %q",
				domain.ErrConfigInvalid, s.name, s.t.MinCreditRating)
		}
	}
	return nil
}

// For returns the base thresholds for a strategy
func (st StrategyThresholds) For(strategy domain.StrategyType) Thresholds {
	if strategy == domain.CashSecuredPut {
		return st.CashSecuredPut
	}
	return st.CoveredCall
}

// Adjusted applies a regime's multiplier row to the base thresholds.
// The yield floor rises and the delta window narrows around its midpoint
// under restrictive regimes.
func (t Thresholds) Adjusted(m catalyst.Multipliers) Thresholds {
	adj := t
	adj.MinAnnualYield = t.MinAnnualYield * m.YieldFloorScale

	mid := (t.DeltaMin + t.DeltaMax) / 2.0
	half := (t.DeltaMax - t.DeltaMin) / 2.0 * m.DeltaWindowScale
	adj.DeltaMin = mid - half
	adj.DeltaMax = mid + half

	return adj
}
