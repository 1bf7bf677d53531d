package catalyst

import (
	"time"
)

// Regime classifies current market/sector conditions. Values are ordered by
// severity so that the most restrictive applicable regime compares greatest:
// SectorCrisis > HighVolatility > Earnings > Regulatory > Inflationary >
// Holiday > Normal.
type Regime int

const (
	Normal Regime = iota
	Holiday
	Inflationary
	Regulatory
	Earnings
	HighVolatility
	SectorCrisis
)

func (r Regime) String() string {
	switch r {
	case Normal:
		return "normal"
	case Holiday:
		return "holiday"
	case Inflationary:
		return "inflationary"
	case Regulatory:
		return "regulatory"
	case Earnings:
		return "earnings"
	case HighVolatility:
		return "high_volatility"
	case SectorCrisis:
		return "sector_crisis"
	default:
		return "unknown"
	}
}

// AllRegimes lists every regime, used for table completeness validation
func AllRegimes() []Regime {
	return []Regime{Normal, Holiday, Inflationary, Regulatory, Earnings, HighVolatility, SectorCrisis}
}

// ClassifierConfig holds the trigger thresholds for regime classification
type ClassifierConfig struct {
	HighVolVIX         float64 `yaml:"high_vol_vix"`         // Default: 30
	ExtremeVIX         float64 `yaml:"extreme_vix"`          // Default: 40 (position count tightens)
	LowVIX             float64 `yaml:"low_vix"`              // Default: 15 (position count relaxes)
	EarningsWindowDays int     `yaml:"earnings_window_days"` // Default: 7
}

// DefaultClassifierConfig returns production trigger thresholds
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		HighVolVIX:         30.0,
		ExtremeVIX:         40.0,
		LowVIX:             15.0,
		EarningsWindowDays: 7,
	}
}

// Inputs carries the raw condition feeds for one classification pass
type Inputs struct {
	VIX            float64        `json:"vix"`
	Date           time.Time      `json:"date"`
	DaysToEarnings map[string]int `json:"days_to_earnings"` // Symbol -> calendar days, absent if none scheduled
	SectorEvents   []string       `json:"sector_events"`    // Sectors with an active crisis event
	MarketHoliday  bool           `json:"market_holiday"`   // Holiday or shortened session
	InflationPrint bool           `json:"inflation_print"`  // CPI/PPI surprise window active
	RegulatoryFlag bool           `json:"regulatory_flag"`  // Pending regulatory action on covered names
}

// Context is the classification result handed to every downstream component.
// Recomputed before each screening cycle.
type Context struct {
	Regime         Regime         `json:"regime"`
	VIX            float64        `json:"vix"`
	DaysToEarnings map[string]int `json:"days_to_earnings"`
	SectorEvents   []string       `json:"sector_events"`
	HolidayFlag    bool           `json:"holiday_flag"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Classifier tags market conditions into a single regime
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier with the given thresholds
func NewClassifier(config ClassifierConfig) *Classifier {
	return &Classifier{config: config}
}

// Classify resolves all simultaneously applicable conditions into the single
// most restrictive regime. Pure function of its inputs, safe to recompute
// every cycle.
func (c *Classifier) Classify(in Inputs) Context {
	regime := Normal

	apply := func(r Regime) {
		if r > regime {
			regime = r
		}
	}

	if in.MarketHoliday {
		apply(Holiday)
	}
	if in.InflationPrint {
		apply(Inflationary)
	}
	if in.RegulatoryFlag {
		apply(Regulatory)
	}
	for _, days := range in.DaysToEarnings {
		if days <= c.config.EarningsWindowDays {
			apply(Earnings)
			break
		}
	}
	if in.VIX >= c.config.HighVolVIX {
		apply(HighVolatility)
	}
	if len(in.SectorEvents) > 0 {
		apply(SectorCrisis)
	}

	return Context{
		Regime:         regime,
		VIX:            in.VIX,
		DaysToEarnings: in.DaysToEarnings,
		SectorEvents:   in.SectorEvents,
		HolidayFlag:    in.MarketHoliday,
		Timestamp:      in.Date,
	}
}

// EarningsWithin reports whether a symbol has earnings inside the window
func (ctx Context) EarningsWithin(symbol string, days int) bool {
	d, ok := ctx.DaysToEarnings[symbol]
	return ok && d <= days
}

// SectorInCrisis reports whether the symbol's sector has an active event
func (ctx Context) SectorInCrisis(sector string) bool {
	for _, s := range ctx.SectorEvents {
		if s == sector {
			return true
		}
	}
	return false
}
