package domain

import (
	"time"
)

// OptionType distinguishes calls from puts
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// StrategyType identifies the selling strategy being screened
type StrategyType string

const (
	CoveredCall    StrategyType = "covered_call"
	CashSecuredPut StrategyType = "cash_secured_put"
)

// OwnershipMode describes how a short option is collateralized
type OwnershipMode string

const (
	Covered     OwnershipMode = "covered"      // Short call against owned shares
	CashSecured OwnershipMode = "cash_secured" // Short put against reserved cash
)

// Underlying holds the per-symbol reference data refreshed on each data pull.
// Immutable within a screening cycle.
type Underlying struct {
	Symbol       string  `json:"symbol"`
	Sector       string  `json:"sector"` // GICS-style classification code
	Price        float64 `json:"price"`
	CreditRating string  `json:"credit_rating"` // "AAA".."D"
	Beta         float64 `json:"beta"`
	HistVol      float64 `json:"hist_vol"`       // Annualized historical volatility
	PutCallRatio float64 `json:"put_call_ratio"` // Volume-based sentiment ratio
}

// OptionContract is a single quoted option series. Read-only to the engine;
// refreshed on each data pull.
type OptionContract struct {
	Symbol     string     `json:"symbol"` // Underlying symbol
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"type"`

	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`

	ImpliedVol   float64 `json:"implied_vol"`
	IVPercentile float64 `json:"iv_percentile"` // 0-100 rank within trailing window
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
}

// Mid returns the quote midpoint premium
func (c OptionContract) Mid() float64 {
	return (c.Bid + c.Ask) / 2.0
}

// SpreadPct returns the bid-ask spread as a fraction of the midpoint.
// Returns 1.0 when the quote is unusable (crossed or empty).
func (c OptionContract) SpreadPct() float64 {
	mid := c.Mid()
	if mid <= 0 || c.Ask < c.Bid {
		return 1.0
	}
	return (c.Ask - c.Bid) / mid
}

// DTE returns calendar days to expiration, never negative
func (c OptionContract) DTE(now time.Time) int {
	d := int(c.Expiration.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// HasCompleteGreeks reports whether the quote carries a usable Greek set.
// A zero delta on a live option means the feed dropped the model outputs.
func (c OptionContract) HasCompleteGreeks() bool {
	return c.Delta != 0 && c.ImpliedVol > 0 && c.Vega != 0
}

// Candidate pairs a contract with its underlying for screening
type Candidate struct {
	Contract   OptionContract `json:"contract"`
	Underlying Underlying     `json:"underlying"`
	Strategy   StrategyType   `json:"strategy"`
	Broker     string         `json:"broker"`
}

// ID returns a stable identifier for the candidate series
func (c Candidate) ID() string {
	return c.Contract.Symbol + "-" + string(c.Contract.Type) + "-" +
		c.Contract.Expiration.Format("20060102")
}

// CollateralPerContract returns the dollar collateral one short contract binds:
// full exercise notional for cash-secured puts, 100 shares at market for
// covered calls.
func (c Candidate) CollateralPerContract() float64 {
	if c.Strategy == CashSecuredPut {
		return c.Contract.Strike * 100.0
	}
	return c.Underlying.Price * 100.0
}

// Position is an open short-option position. Mutated daily (premium, Greeks)
// and on rebalancing; closed on expiry, assignment, or buy-back.
type Position struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Sector         string        `json:"sector"`
	Broker         string        `json:"broker"`
	Strike         float64       `json:"strike"`
	Expiration     time.Time     `json:"expiration"`
	Type           OptionType    `json:"type"`
	Mode           OwnershipMode `json:"mode"`
	Quantity       int           `json:"quantity"` // Contracts short (positive)
	EntryPremium   float64       `json:"entry_premium"`
	CurrentPremium float64       `json:"current_premium"`
	EntryDate      time.Time     `json:"entry_date"`

	// Per-contract Greeks, refreshed daily
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`

	ImpliedVol      float64 `json:"implied_vol"`
	TrailingAvgIV   float64 `json:"trailing_avg_iv"`
	EntryVIX        float64 `json:"entry_vix"`
	EntrySpreadPct  float64 `json:"entry_spread_pct"`
	SpreadPct       float64 `json:"spread_pct"`
	UnderlyingPrice float64 `json:"underlying_price"`
}

// PremiumDecay returns the fraction of entry premium captured so far
func (p Position) PremiumDecay() float64 {
	if p.EntryPremium <= 0 {
		return 0
	}
	return (p.EntryPremium - p.CurrentPremium) / p.EntryPremium
}

// CollateralRequired returns the cash this position binds
func (p Position) CollateralRequired() float64 {
	if p.Mode == CashSecured {
		return p.Strike * 100.0 * float64(p.Quantity)
	}
	return 0
}

// Portfolio is the account state. Singly owned by the risk aggregator; all
// other components read snapshots.
type Portfolio struct {
	Cash             float64            `json:"cash"`
	TotalValue       float64            `json:"total_value"`
	Positions        []Position         `json:"positions"`
	Shares           map[string]int     `json:"shares"`            // Symbol -> shares owned
	SectorExposure   map[string]float64 `json:"sector_exposure"`   // Sector -> fraction of total value
	BrokerAllocation map[string]float64 `json:"broker_allocation"` // Broker -> fraction of total value
}

// Snapshot returns a deep copy safe for concurrent read-only use
func (p *Portfolio) Snapshot() *Portfolio {
	cp := &Portfolio{
		Cash:             p.Cash,
		TotalValue:       p.TotalValue,
		Positions:        make([]Position, len(p.Positions)),
		Shares:           make(map[string]int, len(p.Shares)),
		SectorExposure:   make(map[string]float64, len(p.SectorExposure)),
		BrokerAllocation: make(map[string]float64, len(p.BrokerAllocation)),
	}
	copy(cp.Positions, p.Positions)
	for k, v := range p.Shares {
		cp.Shares[k] = v
	}
	for k, v := range p.SectorExposure {
		cp.SectorExposure[k] = v
	}
	for k, v := range p.BrokerAllocation {
		cp.BrokerAllocation[k] = v
	}
	return cp
}

// AvailableCash returns cash not already pledged as put collateral
func (p *Portfolio) AvailableCash() float64 {
	reserved := 0.0
	for _, pos := range p.Positions {
		reserved += pos.CollateralRequired()
	}
	return p.Cash - reserved
}

// creditRatingRank orders ratings from strongest (highest rank) to weakest
var creditRatingRank = map[string]int{
	"AAA": 10, "AA": 9, "A": 8, "BBB": 7, "BB": 6,
	"B": 5, "CCC": 4, "CC": 3, "C": 2, "D": 1,
}

// CreditRatingRank returns a comparable rank for a rating string, 0 if unknown
func CreditRatingRank(rating string) int {
	return creditRatingRank[rating]
}
