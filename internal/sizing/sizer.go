package sizing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

// Constraint names reported as the binding limit
const (
	ConstraintRequested     = "requested"
	ConstraintMaxPct        = "max_position_pct"
	ConstraintCash          = "cash"
	ConstraintShares        = "shares"
	ConstraintSector        = "sector"
	ConstraintGreeks        = "greeks"
	ConstraintBroker        = "broker"
	ConstraintPositionCount = "position_count"
)

// constraintOrder fixes which name wins when two caps tie
var constraintOrder = []string{
	ConstraintRequested,
	ConstraintMaxPct,
	ConstraintCash,
	ConstraintShares,
	ConstraintSector,
	ConstraintGreeks,
	ConstraintBroker,
}

// Config holds the per-position allocation ceiling
type Config struct {
	MaxPositionPct float64 `yaml:"max_position_pct"` // Collateral ceiling per position as a fraction of portfolio value
}

func DefaultConfig() Config {
	return Config{MaxPositionPct: 0.05}
}

func (c Config) Validate() error {
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1.0 {
		return fmt.Errorf("max_position_pct %.3f outside (0, 1]: %w", c.MaxPositionPct, domain.ErrConfigInvalid)
	}
	return nil
}

// Result is the sizing outcome for one approved candidate. Quantity is the
// final contract count after the regime multiplier; BindingConstraint names
// the tightest pre-multiplier cap.
type Result struct {
	Quantity          int            `json:"quantity"`
	BindingConstraint string         `json:"binding_constraint"`
	Multiplier        float64        `json:"multiplier"`
	Caps              map[string]int `json:"caps"`
}

// Sizer converts approved candidates into bounded contract quantities. It
// reads capacity from the risk aggregator's snapshot; it never mutates the
// portfolio itself, commits go through the aggregator afterwards.
type Sizer struct {
	config Config
	agg    *risk.Aggregator
	table  catalyst.MultiplierTable
}

func NewSizer(config Config, agg *risk.Aggregator, table catalyst.MultiplierTable) *Sizer {
	return &Sizer{config: config, agg: agg, table: table}
}

// Size computes min(max-position %, cash, sector, Greeks, broker) in whole
// contracts, scales it by the regime size multiplier, and floors. A zero
// final quantity fails with ErrInsufficientCapacity: the candidate is
// rejected as a normal outcome, not an exception.
func (s *Sizer) Size(candidate domain.Candidate, requested int, regime catalyst.Context) (Result, error) {
	snap := s.agg.Snapshot()
	pf := s.agg.PortfolioSnapshot()
	if snap == nil || pf == nil || snap.PortfolioValue <= 0 {
		return Result{}, fmt.Errorf("sizing %s: no risk snapshot available: %w", candidate.ID(), domain.ErrSnapshotStale)
	}

	bounds := s.agg.Bounds()
	if snap.PositionCount >= bounds.MaxPositions {
		return Result{BindingConstraint: ConstraintPositionCount},
			fmt.Errorf("sizing %s: position count %d at regime limit %d: %w",
				candidate.ID(), snap.PositionCount, bounds.MaxPositions, domain.ErrInsufficientCapacity)
	}

	collateral := candidate.CollateralPerContract()
	if collateral <= 0 {
		return Result{}, fmt.Errorf("sizing %s: zero collateral per contract: %w", candidate.ID(), domain.ErrInsufficientCapacity)
	}

	caps := make(map[string]int, len(constraintOrder))
	if requested > 0 {
		caps[ConstraintRequested] = requested
	}
	caps[ConstraintMaxPct] = contractsFor(s.config.MaxPositionPct*snap.PortfolioValue, collateral)

	switch candidate.Strategy {
	case domain.CashSecuredPut:
		caps[ConstraintCash] = contractsFor(pf.AvailableCash(), collateral)
	case domain.CoveredCall:
		caps[ConstraintShares] = uncoveredLots(pf, candidate.Underlying.Symbol)
	}

	sectorRemaining := bounds.SectorCapPct - snap.SectorExposure[candidate.Underlying.Sector]
	caps[ConstraintSector] = contractsFor(sectorRemaining*snap.PortfolioValue, collateral)

	caps[ConstraintGreeks] = s.greeksCapacity(snap, bounds, candidate)

	brokerRemaining := bounds.BrokerPct - snap.BrokerAllocation[candidate.Broker]
	caps[ConstraintBroker] = contractsFor(brokerRemaining*snap.PortfolioValue, collateral)

	base := math.MaxInt
	binding := ""
	for _, name := range constraintOrder {
		q, ok := caps[name]
		if !ok {
			continue
		}
		if q < base {
			base = q
			binding = name
		}
	}

	mult := s.table.For(regime.Regime).SizeMultiplier
	quantity := int(math.Floor(float64(base) * mult))

	result := Result{
		Quantity:          quantity,
		BindingConstraint: binding,
		Multiplier:        mult,
		Caps:              caps,
	}
	if quantity <= 0 {
		return result, fmt.Errorf("sizing %s: %s capacity exhausted: %w",
			candidate.ID(), binding, domain.ErrInsufficientCapacity)
	}

	log.Debug().
		Str("candidate", candidate.ID()).
		Int("quantity", quantity).
		Str("binding", binding).
		Float64("multiplier", mult).
		Str("regime", regime.Regime.String()).
		Msg("Candidate sized")
	return result, nil
}

// greeksCapacity returns the contract count at which the first portfolio
// Greek bound would be crossed. A Greek the contract does not carry leaves
// that bound unconstraining.
func (s *Sizer) greeksCapacity(snap *risk.Snapshot, bounds risk.Bounds, candidate domain.Candidate) int {
	v := snap.PortfolioValue
	perContract := func(greek float64) float64 {
		return math.Abs(greek) * 100.0 * candidate.Underlying.Price / v
	}

	capacity := math.MaxInt
	consider := func(remaining, per float64) {
		if per <= 0 {
			return
		}
		if q := contractsFor(remaining, per); q < capacity {
			capacity = q
		}
	}

	consider(bounds.NetDelta-math.Abs(snap.NetDelta), perContract(candidate.Contract.Delta))
	consider(bounds.NetGamma-math.Abs(snap.NetGamma), perContract(candidate.Contract.Gamma))
	consider(bounds.VegaNotionalPct-snap.VegaNotionalPct, perContract(candidate.Contract.Vega))
	return capacity
}

// uncoveredLots counts 100-share lots held but not yet written against
func uncoveredLots(pf *domain.Portfolio, symbol string) int {
	lots := pf.Shares[symbol] / 100
	for _, p := range pf.Positions {
		if p.Symbol == symbol && p.Mode == domain.Covered {
			lots -= p.Quantity
		}
	}
	if lots < 0 {
		return 0
	}
	return lots
}

func contractsFor(dollars, perContract float64) int {
	if perContract <= 0 || dollars <= 0 {
		return 0
	}
	return int(math.Floor(dollars / perContract))
}
