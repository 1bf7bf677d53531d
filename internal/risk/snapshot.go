package risk

import (
	"time"
)

// LimitKind names a portfolio-wide risk limit
type LimitKind string

const (
	LimitDelta         LimitKind = "net_delta"
	LimitGamma         LimitKind = "net_gamma"
	LimitVega          LimitKind = "vega_notional"
	LimitSector        LimitKind = "sector_exposure"
	LimitPositionCount LimitKind = "position_count"
	LimitBroker        LimitKind = "broker_concentration"
	LimitVaR           LimitKind = "var_95"
	LimitES            LimitKind = "es_975"
)

// AllLimits lists every tracked limit, in headroom-report order
func AllLimits() []LimitKind {
	return []LimitKind{
		LimitDelta, LimitGamma, LimitVega, LimitSector,
		LimitPositionCount, LimitBroker, LimitVaR, LimitES,
	}
}

// Limits holds the base portfolio risk bounds before regime tightening
type Limits struct {
	MaxNetDelta        float64       `yaml:"max_net_delta"`         // Default: 0.2
	MaxNetGamma        float64       `yaml:"max_net_gamma"`         // Default: 0.05
	MaxVegaNotionalPct float64       `yaml:"max_vega_notional_pct"` // Default: 0.02
	MaxBrokerPct       float64       `yaml:"max_broker_pct"`        // Default: 0.50
	MaxVaRPct          float64       `yaml:"max_var_pct"`           // VaR(95%) as fraction of value
	MaxESPct           float64       `yaml:"max_es_pct"`            // ES(97.5%) as fraction of value
	FreshnessWindow    time.Duration `yaml:"freshness_window"`      // Default: 15m intraday
	ToleranceMargin    float64       `yaml:"tolerance_margin"`      // Breach slack before a rebalance directive
}

// DefaultLimits returns the production risk bounds
func DefaultLimits() Limits {
	return Limits{
		MaxNetDelta:        0.20,
		MaxNetGamma:        0.05,
		MaxVegaNotionalPct: 0.02,
		MaxBrokerPct:       0.50,
		MaxVaRPct:          0.05,
		MaxESPct:           0.07,
		FreshnessWindow:    15 * time.Minute,
		ToleranceMargin:    0.05,
	}
}

// Snapshot is the authoritative portfolio risk state. Recomputed on fill,
// daily close, weekly review, or on demand when stale.
type Snapshot struct {
	NetDelta         float64            `json:"net_delta"`
	NetGamma         float64            `json:"net_gamma"`
	VegaNotionalPct  float64            `json:"vega_notional_pct"`
	VaR95            float64            `json:"var_95"` // Dollars
	ES975            float64            `json:"es_975"` // Dollars
	Correlations     *Matrix            `json:"correlations"`
	SectorExposure   map[string]float64 `json:"sector_exposure"`
	BrokerAllocation map[string]float64 `json:"broker_allocation"`
	PositionCount    int                `json:"position_count"`
	PortfolioValue   float64            `json:"portfolio_value"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Clone returns a copy safe to hand to readers
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.SectorExposure = make(map[string]float64, len(s.SectorExposure))
	for k, v := range s.SectorExposure {
		cp.SectorExposure[k] = v
	}
	cp.BrokerAllocation = make(map[string]float64, len(s.BrokerAllocation))
	for k, v := range s.BrokerAllocation {
		cp.BrokerAllocation[k] = v
	}
	return &cp
}

// Stale reports whether the snapshot is older than the freshness window
func (s *Snapshot) Stale(now time.Time, window time.Duration) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.Timestamp) > window
}

// MaxSectorExposure returns the largest single-sector exposure fraction
func (s *Snapshot) MaxSectorExposure() float64 {
	max := 0.0
	for _, v := range s.SectorExposure {
		if v > max {
			max = v
		}
	}
	return max
}

// MaxBrokerAllocation returns the largest single-broker allocation fraction
func (s *Snapshot) MaxBrokerAllocation() float64 {
	max := 0.0
	for _, v := range s.BrokerAllocation {
		if v > max {
			max = v
		}
	}
	return max
}
