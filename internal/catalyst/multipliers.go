package catalyst

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Multipliers scale downstream thresholds and limits for one regime.
// Filter thresholds, position sizing, and risk limits all consult this
// table rather than branching on the regime directly, so new regimes are
// additive.
type Multipliers struct {
	// YieldFloorScale multiplies the minimum annualized premium yield.
	// >1 demands richer premium under stress.
	YieldFloorScale float64 `yaml:"yield_floor_scale"`

	// DeltaWindowScale narrows (<1) or keeps (1.0) the acceptable delta
	// moneyness window.
	DeltaWindowScale float64 `yaml:"delta_window_scale"`

	// EarningsExclusionDays is the hard earnings-proximity window
	EarningsExclusionDays int `yaml:"earnings_exclusion_days"`

	// SizeMultiplier scales the base allocation, bounded [0.25, 1.0]
	SizeMultiplier float64 `yaml:"size_multiplier"`

	// RiskTightening scales portfolio risk limits downward, bounded (0, 1]
	RiskTightening float64 `yaml:"risk_tightening"`

	// MaxPositions is the open-position count bound under this regime
	MaxPositions int `yaml:"max_positions"`

	// SectorCapPct is the per-sector exposure cap as a fraction of value
	SectorCapPct float64 `yaml:"sector_cap_pct"`
}

// MultiplierTable maps each regime to its multiplier row
type MultiplierTable map[Regime]Multipliers

// DefaultMultiplierTable returns the production regime table
func DefaultMultiplierTable() MultiplierTable {
	return MultiplierTable{
		Normal: {
			YieldFloorScale:       1.00,
			DeltaWindowScale:      1.00,
			EarningsExclusionDays: 3,
			SizeMultiplier:        1.00,
			RiskTightening:        1.00,
			MaxPositions:          10,
			SectorCapPct:          0.25,
		},
		Holiday: {
			YieldFloorScale:       1.00,
			DeltaWindowScale:      1.00,
			EarningsExclusionDays: 3,
			SizeMultiplier:        0.75, // Thin sessions, wider effective spreads
			RiskTightening:        1.00,
			MaxPositions:          10,
			SectorCapPct:          0.25,
		},
		Inflationary: {
			YieldFloorScale:       1.10,
			DeltaWindowScale:      0.90,
			EarningsExclusionDays: 3,
			SizeMultiplier:        0.75,
			RiskTightening:        0.90,
			MaxPositions:          10,
			SectorCapPct:          0.22,
		},
		Regulatory: {
			YieldFloorScale:       1.10,
			DeltaWindowScale:      0.90,
			EarningsExclusionDays: 3,
			SizeMultiplier:        0.60,
			RiskTightening:        0.85,
			MaxPositions:          9,
			SectorCapPct:          0.22,
		},
		Earnings: {
			YieldFloorScale:       1.20,
			DeltaWindowScale:      0.80,
			EarningsExclusionDays: 5, // Window widens during the season
			SizeMultiplier:        0.50,
			RiskTightening:        0.85,
			MaxPositions:          9,
			SectorCapPct:          0.22,
		},
		HighVolatility: {
			YieldFloorScale:       1.40,
			DeltaWindowScale:      0.70,
			EarningsExclusionDays: 5,
			SizeMultiplier:        0.40,
			RiskTightening:        0.70,
			MaxPositions:          7,
			SectorCapPct:          0.20,
		},
		SectorCrisis: {
			YieldFloorScale:       1.60,
			DeltaWindowScale:      0.60,
			EarningsExclusionDays: 7,
			SizeMultiplier:        0.25,
			RiskTightening:        0.60,
			MaxPositions:          7,
			SectorCapPct:          0.15,
		},
	}
}

// ParseRegime resolves a regime name as it appears in configuration
func ParseRegime(s string) (Regime, error) {
	for _, r := range AllRegimes() {
		if r.String() == s {
			return r, nil
		}
	}
	return Normal, fmt.Errorf("unknown regime %q", s)
}

// UnmarshalYAML decodes a string-keyed regime section as a sparse
// override of the default table. Rows omitted from the config keep
// their defaults; fields omitted from a row keep that row's defaults.
func (t *MultiplierTable) UnmarshalYAML(value *yaml.Node) error {
	if *t == nil {
		*t = DefaultMultiplierTable()
	}
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("regime table: %w", err)
	}
	for key, node := range raw {
		regime, err := ParseRegime(key)
		if err != nil {
			return fmt.Errorf("regime table: %w", err)
		}
		row := (*t)[regime]
		if err := node.Decode(&row); err != nil {
			return fmt.Errorf("regime table %s: %w", key, err)
		}
		(*t)[regime] = row
	}
	return nil
}

// For returns the multiplier row for a regime, falling back to the most
// restrictive known row for an unknown regime.
func (t MultiplierTable) For(regime Regime) Multipliers {
	if m, ok := t[regime]; ok {
		return m
	}
	return t[SectorCrisis]
}

// Validate checks the table is complete and each row is sane. A broken
// table is fatal at startup.
func (t MultiplierTable) Validate() error {
	for _, r := range AllRegimes() {
		m, ok := t[r]
		if !ok {
			return fmt.Errorf("regime table missing row for %s", r)
		}
		if m.SizeMultiplier < 0.25 || m.SizeMultiplier > 1.0 {
			return fmt.Errorf("regime %s: size multiplier %.2f outside [0.25, 1.0]", r, m.SizeMultiplier)
		}
		if m.RiskTightening <= 0 || m.RiskTightening > 1.0 {
			return fmt.Errorf("regime %s: risk tightening %.2f outside (0, 1.0]", r, m.RiskTightening)
		}
		if m.MaxPositions <= 0 {
			return fmt.Errorf("regime %s: max positions must be positive", r)
		}
		if m.SectorCapPct <= 0 || m.SectorCapPct > 1.0 {
			return fmt.Errorf("regime %s: sector cap %.2f outside (0, 1.0]", r, m.SectorCapPct)
		}
		if m.EarningsExclusionDays < 0 {
			return fmt.Errorf("regime %s: earnings exclusion days must be non-negative", r)
		}
	}
	return nil
}

// MaxPositions returns the regime position bound with VIX adjustments:
// tightened to 7 above the extreme-VIX threshold, relaxed to 12 in calm
// Normal conditions.
func (ctx Context) MaxPositions(table MultiplierTable, config ClassifierConfig) int {
	max := table.For(ctx.Regime).MaxPositions
	if ctx.VIX > config.ExtremeVIX && max > 7 {
		return 7
	}
	if ctx.Regime == Normal && ctx.VIX > 0 && ctx.VIX < config.LowVIX {
		return 12
	}
	return max
}
