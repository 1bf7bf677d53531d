package gates

import (
	"context"
	"fmt"
	"time"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// FilterCheck records the outcome of a single hard gate or soft filter
type FilterCheck struct {
	Name        string      `json:"name"`
	Hard        bool        `json:"hard"`
	Passed      bool        `json:"passed"`
	Score       float64     `json:"score"` // Soft filters only, [0, 1]
	Value       interface{} `json:"value"`
	Threshold   interface{} `json:"threshold"`
	Description string      `json:"description"`
}

// ScreeningResult is the full outcome of screening one candidate
type ScreeningResult struct {
	CandidateID  string                  `json:"candidate_id"`
	Symbol       string                  `json:"symbol"`
	Strategy     domain.StrategyType     `json:"strategy"`
	Regime       catalyst.Regime         `json:"regime"`
	Timestamp    time.Time               `json:"timestamp"`
	Checks       map[string]*FilterCheck `json:"checks"`
	HardFailures []string                `json:"hard_failures"` // Ordered; empty when all hard gates pass
	QuantScore   float64                 `json:"quant_score"`   // 0-10; zero when any hard gate fails
	Passed       bool                    `json:"passed"`
}

// SoftWeights assigns relative weight to each soft filter's sub-score.
// Equal weighting by default; a zero-value weight drops the filter from
// the aggregate.
type SoftWeights struct {
	PremiumYield   float64 `yaml:"premium_yield"`
	DeltaWindow    float64 `yaml:"delta_window"`
	IVPercentile   float64 `yaml:"iv_percentile"`
	DTEWindow      float64 `yaml:"dte_window"`
	PutCallRatio   float64 `yaml:"put_call_ratio"`
	CreditRating   float64 `yaml:"credit_rating"`
	SectorCapacity float64 `yaml:"sector_capacity"`
}

// DefaultSoftWeights returns equal weighting across all soft filters
func DefaultSoftWeights() SoftWeights {
	return SoftWeights{
		PremiumYield:   1.0,
		DeltaWindow:    1.0,
		IVPercentile:   1.0,
		DTEWindow:      1.0,
		PutCallRatio:   1.0,
		CreditRating:   1.0,
		SectorCapacity: 1.0,
	}
}

// Screener evaluates candidates against strategy thresholds with
// regime-adjusted bounds.
type Screener struct {
	thresholds StrategyThresholds
	weights    SoftWeights
	table      catalyst.MultiplierTable
	now        func() time.Time
}

// NewScreener creates a screener over the given threshold and regime tables
func NewScreener(thresholds StrategyThresholds, weights SoftWeights, table catalyst.MultiplierTable) *Screener {
	return &Screener{
		thresholds: thresholds,
		weights:    weights,
		table:      table,
		now:        time.Now,
	}
}

// Screen evaluates one candidate. Hard gates run first, in a fixed order;
// any hard failure zeroes the quant score but soft filters are still
// reported for observability. The portfolio snapshot is read-only.
func (s *Screener) Screen(ctx context.Context, cand domain.Candidate, regime catalyst.Context, snapshot *domain.Portfolio) (*ScreeningResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := s.table.For(regime.Regime)
	base := s.thresholds.For(cand.Strategy)
	th := base.Adjusted(m)
	now := s.now()

	result := &ScreeningResult{
		CandidateID:  cand.ID(),
		Symbol:       cand.Contract.Symbol,
		Strategy:     cand.Strategy,
		Regime:       regime.Regime,
		Timestamp:    now,
		Checks:       make(map[string]*FilterCheck),
		HardFailures: []string{},
	}

	// Hard gate 1: ownership / cash availability
	s.checkOwnership(result, cand, snapshot)

	// Hard gate 2: minimum liquidity
	s.checkLiquidity(result, cand, th)

	// Hard gate 3: earnings proximity exclusion
	s.checkEarningsProximity(result, cand, regime, m)

	// Hard gate 4: data completeness
	s.checkDataComplete(result, cand)

	result.Passed = len(result.HardFailures) == 0

	// Soft filters always reported; score only counts when hard gates pass
	score := s.softScore(result, cand, th, snapshot, now)
	if result.Passed {
		result.QuantScore = score
	}

	return result, nil
}

func (s *Screener) addHard(result *ScreeningResult, check *FilterCheck) {
	check.Hard = true
	result.Checks[check.Name] = check
	if !check.Passed {
		result.HardFailures = append(result.HardFailures, check.Description)
	}
}

func (s *Screener) checkOwnership(result *ScreeningResult, cand domain.Candidate, snapshot *domain.Portfolio) {
	if cand.Strategy == domain.CoveredCall {
		shares := snapshot.Shares[cand.Contract.Symbol]
		check := &FilterCheck{
			Name:        "ownership",
			Value:       shares,
			Threshold:   100,
			Passed:      shares >= 100,
			Description: fmt.Sprintf("Own %d shares of %s, need >=100 per covered call", shares, cand.Contract.Symbol),
		}
		s.addHard(result, check)
		return
	}

	required := cand.Contract.Strike * 100.0
	available := snapshot.AvailableCash()
	check := &FilterCheck{
		Name:        "cash_available",
		Value:       available,
		Threshold:   required,
		Passed:      available >= required,
		Description: fmt.Sprintf("Available cash $%.0f covers put collateral $%.0f", available, required),
	}
	s.addHard(result, check)
}

func (s *Screener) checkLiquidity(result *ScreeningResult, cand domain.Candidate, th Thresholds) {
	oi := cand.Contract.OpenInterest
	oiCheck := &FilterCheck{
		Name:        "open_interest",
		Value:       oi,
		Threshold:   th.MinOpenInterest,
		Passed:      oi >= th.MinOpenInterest,
		Description: fmt.Sprintf("Open interest %d >= %d", oi, th.MinOpenInterest),
	}
	s.addHard(result, oiCheck)

	spread := cand.Contract.SpreadPct()
	spreadCheck := &FilterCheck{
		Name:        "spread",
		Value:       spread,
		Threshold:   th.MaxSpreadPct,
		Passed:      spread <= th.MaxSpreadPct,
		Description: fmt.Sprintf("Spread %.1f%% of mid <= %.1f%%", spread*100, th.MaxSpreadPct*100),
	}
	s.addHard(result, spreadCheck)
}

func (s *Screener) checkEarningsProximity(result *ScreeningResult, cand domain.Candidate, regime catalyst.Context, m catalyst.Multipliers) {
	days, scheduled := regime.DaysToEarnings[cand.Contract.Symbol]
	check := &FilterCheck{
		Name:      "earnings_proximity",
		Value:     days,
		Threshold: m.EarningsExclusionDays,
		Passed:    !scheduled || days > m.EarningsExclusionDays,
	}
	if scheduled {
		check.Description = fmt.Sprintf("Earnings in %d days, exclusion window %d days", days, m.EarningsExclusionDays)
	} else {
		check.Description = "No earnings scheduled"
	}
	s.addHard(result, check)
}

func (s *Screener) checkDataComplete(result *ScreeningResult, cand domain.Candidate) {
	complete := cand.Contract.HasCompleteGreeks() && cand.Contract.Bid > 0
	check := &FilterCheck{
		Name:        "data_complete",
		Value:       complete,
		Threshold:   true,
		Passed:      complete,
		Description: fmt.Sprintf("DataUnavailable: missing Greeks or quote for %s", cand.Contract.Symbol),
	}
	if complete {
		check.Description = "Greeks and quote present"
	}
	s.addHard(result, check)
}

// softScore evaluates every soft filter and returns the weighted quant
// score on a 0-10 scale.
func (s *Screener) softScore(result *ScreeningResult, cand domain.Candidate, th Thresholds, snapshot *domain.Portfolio, now time.Time) float64 {
	type soft struct {
		name   string
		weight float64
		score  float64
		value  interface{}
		desc   string
	}

	var softs []soft

	// Annualized premium yield against the regime-adjusted floor
	yield := annualizedYield(cand, now)
	softs = append(softs, soft{
		name:   "premium_yield",
		weight: s.weights.PremiumYield,
		score:  clamp01(yield / th.MinAnnualYield),
		value:  yield,
		desc:   fmt.Sprintf("Annualized yield %.1f%% vs floor %.1f%%", yield*100, th.MinAnnualYield*100),
	})

	// Delta moneyness window
	absDelta := abs(cand.Contract.Delta)
	softs = append(softs, soft{
		name:   "delta_window",
		weight: s.weights.DeltaWindow,
		score:  bandScore(absDelta, th.DeltaMin, th.DeltaMax),
		value:  absDelta,
		desc:   fmt.Sprintf("|delta| %.2f in [%.2f, %.2f]", absDelta, th.DeltaMin, th.DeltaMax),
	})

	// Implied volatility percentile band
	softs = append(softs, soft{
		name:   "iv_percentile",
		weight: s.weights.IVPercentile,
		score:  bandScore(cand.Contract.IVPercentile, th.IVPercentileMin, th.IVPercentileMax),
		value:  cand.Contract.IVPercentile,
		desc:   fmt.Sprintf("IV percentile %.0f in [%.0f, %.0f]", cand.Contract.IVPercentile, th.IVPercentileMin, th.IVPercentileMax),
	})

	// Time-to-expiration window
	dte := cand.Contract.DTE(now)
	softs = append(softs, soft{
		name:   "dte_window",
		weight: s.weights.DTEWindow,
		score:  bandScore(float64(dte), float64(th.DTEMin), float64(th.DTEMax)),
		value:  dte,
		desc:   fmt.Sprintf("DTE %d in [%d, %d]", dte, th.DTEMin, th.DTEMax),
	})

	// Put-call sentiment ratio, puts only
	if cand.Contract.Type == domain.Put && th.MaxPutCallRatio > 0 {
		pcr := cand.Underlying.PutCallRatio
		score := 1.0
		if pcr > th.MaxPutCallRatio {
			score = clamp01(th.MaxPutCallRatio / pcr)
		}
		softs = append(softs, soft{
			name:   "put_call_ratio",
			weight: s.weights.PutCallRatio,
			score:  score,
			value:  pcr,
			desc:   fmt.Sprintf("Put/call ratio %.2f vs max %.2f", pcr, th.MaxPutCallRatio),
		})
	}

	// Credit rating floor
	rank := domain.CreditRatingRank(cand.Underlying.CreditRating)
	floor := domain.CreditRatingRank(th.MinCreditRating)
	ratingScore := 0.0
	switch {
	case rank >= floor:
		ratingScore = 1.0
	case rank == floor-1:
		ratingScore = 0.5 // One notch below floor: penalized, not excluded
	}
	softs = append(softs, soft{
		name:   "credit_rating",
		weight: s.weights.CreditRating,
		score:  ratingScore,
		value:  cand.Underlying.CreditRating,
		desc:   fmt.Sprintf("Rating %s vs floor %s", cand.Underlying.CreditRating, th.MinCreditRating),
	})

	// Sector pre-capacity: how much room the sector cap leaves
	m := s.table.For(result.Regime)
	exposure := snapshot.SectorExposure[cand.Underlying.Sector]
	capLeft := 0.0
	if m.SectorCapPct > 0 {
		capLeft = clamp01((m.SectorCapPct - exposure) / m.SectorCapPct)
	}
	softs = append(softs, soft{
		name:   "sector_capacity",
		weight: s.weights.SectorCapacity,
		score:  capLeft,
		value:  exposure,
		desc:   fmt.Sprintf("Sector %s exposure %.1f%% vs cap %.1f%%", cand.Underlying.Sector, exposure*100, m.SectorCapPct*100),
	})

	totalWeight := 0.0
	weighted := 0.0
	for _, f := range softs {
		result.Checks[f.name] = &FilterCheck{
			Name:        f.name,
			Passed:      f.score > 0,
			Score:       f.score,
			Value:       f.value,
			Description: f.desc,
		}
		totalWeight += f.weight
		weighted += f.weight * f.score
	}

	if totalWeight == 0 {
		return 0
	}
	return 10.0 * weighted / totalWeight
}

// annualizedYield returns mid premium over collateral, annualized by DTE
func annualizedYield(cand domain.Candidate, now time.Time) float64 {
	dte := cand.Contract.DTE(now)
	if dte == 0 {
		return 0
	}
	collateral := cand.CollateralPerContract()
	if collateral <= 0 {
		return 0
	}
	return (cand.Contract.Mid() * 100.0 / collateral) * (365.0 / float64(dte))
}

// bandScore returns 1.0 inside [lo, hi], tapering linearly to 0 over half
// the band width outside it.
func bandScore(v, lo, hi float64) float64 {
	if v >= lo && v <= hi {
		return 1.0
	}
	taper := (hi - lo) / 2.0
	if taper <= 0 {
		return 0
	}
	var dist float64
	if v < lo {
		dist = lo - v
	} else {
		dist = v - hi
	}
	return clamp01(1.0 - dist/taper)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
