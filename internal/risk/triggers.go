package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// DirectiveType distinguishes per-position stops from portfolio rebalances
type DirectiveType string

const (
	StopLossDirective  DirectiveType = "stop_loss"
	RebalanceDirective DirectiveType = "rebalance"
)

// StopReason names the condition that fired a stop-loss, in precedence order
type StopReason int

const (
	NoStop StopReason = iota
	PremiumDecay
	VIXSpike
	IVSpike
	SpreadWidening
)

func (r StopReason) String() string {
	switch r {
	case PremiumDecay:
		return "premium_decay"
	case VIXSpike:
		return "vix_spike"
	case IVSpike:
		return "iv_spike"
	case SpreadWidening:
		return "spread_widening"
	default:
		return "none"
	}
}

// Directive instructs the execution side to close or reduce exposure.
// Non-fatal: surfaced to monitoring and acted on by an external actor.
type Directive struct {
	Type               DirectiveType `json:"type"`
	PositionID         string        `json:"position_id,omitempty"`
	Symbol             string        `json:"symbol,omitempty"`
	Reason             string        `json:"reason"`
	TriggeredBy        string        `json:"triggered_by"`
	Limit              LimitKind     `json:"limit,omitempty"`
	TargetReductionPct float64       `json:"target_reduction_pct,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
}

// TriggerConfig holds stop-loss and rebalance thresholds
type TriggerConfig struct {
	StopLossDecay       float64 `yaml:"stop_loss_decay"`       // Default: 0.20
	VIXChangePct        float64 `yaml:"vix_change_pct"`        // VIX rise from entry, default: 0.30
	IVSpikeMultiple     float64 `yaml:"iv_spike_multiple"`     // IV vs trailing average, default: 1.5
	SpreadWidenMultiple float64 `yaml:"spread_widen_multiple"` // Spread vs entry, default: 3.0
}

// DefaultTriggerConfig returns production trigger thresholds
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		StopLossDecay:       0.20,
		VIXChangePct:        0.30,
		IVSpikeMultiple:     1.5,
		SpreadWidenMultiple: 3.0,
	}
}

// EvaluateTriggers walks every open position for stop-loss conditions and
// every portfolio limit for breaches beyond the tolerance margin. Stop
// conditions are checked in precedence order; the first match wins per
// position.
func (a *Aggregator) EvaluateTriggers(config TriggerConfig, currentVIX float64, now time.Time) []Directive {
	a.mu.Lock()
	positions := make([]domain.Position, len(a.portfolio.Positions))
	copy(positions, a.portfolio.Positions)
	snap := a.snapshot.Clone()
	eff := a.effectiveLocked()
	tolerance := a.limits.ToleranceMargin
	a.mu.Unlock()

	var directives []Directive

	for _, p := range positions {
		if d, ok := evaluateStop(p, config, currentVIX, now); ok {
			directives = append(directives, d)
		}
	}

	if snap != nil {
		directives = append(directives, evaluateRebalance(snap, eff, tolerance, now)...)
	}

	for _, d := range directives {
		log.Warn().
			Str("type", string(d.Type)).
			Str("symbol", d.Symbol).
			Str("reason", d.Reason).
			Str("trigger", d.TriggeredBy).
			Msg("risk directive emitted")
	}

	return directives
}

func evaluateStop(p domain.Position, config TriggerConfig, currentVIX float64, now time.Time) (Directive, bool) {
	reason := NoStop
	triggeredBy := ""

	decay := p.PremiumDecay()
	if decay >= config.StopLossDecay {
		reason = PremiumDecay
		triggeredBy = fmt.Sprintf("Premium decay %.0f%% >= %.0f%% (entry $%.2f, now $%.2f)",
			decay*100, config.StopLossDecay*100, p.EntryPremium, p.CurrentPremium)
	}

	if reason == NoStop && p.EntryVIX > 0 && currentVIX > 0 {
		change := (currentVIX - p.EntryVIX) / p.EntryVIX
		if change >= config.VIXChangePct {
			reason = VIXSpike
			triggeredBy = fmt.Sprintf("VIX %.1f up %.0f%% from entry %.1f", currentVIX, change*100, p.EntryVIX)
		}
	}

	if reason == NoStop && p.TrailingAvgIV > 0 && p.ImpliedVol >= p.TrailingAvgIV*config.IVSpikeMultiple {
		reason = IVSpike
		triggeredBy = fmt.Sprintf("IV %.2f >= %.1fx trailing average %.2f", p.ImpliedVol, config.IVSpikeMultiple, p.TrailingAvgIV)
	}

	if reason == NoStop && p.EntrySpreadPct > 0 && p.SpreadPct >= p.EntrySpreadPct*config.SpreadWidenMultiple {
		reason = SpreadWidening
		triggeredBy = fmt.Sprintf("Spread %.1f%% >= %.1fx entry %.1f%%", p.SpreadPct*100, config.SpreadWidenMultiple, p.EntrySpreadPct*100)
	}

	if reason == NoStop {
		return Directive{}, false
	}

	return Directive{
		Type:        StopLossDirective,
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Reason:      reason.String(),
		TriggeredBy: triggeredBy,
		Timestamp:   now,
	}, true
}

func evaluateRebalance(snap *Snapshot, eff effectiveLimits, tolerance float64, now time.Time) []Directive {
	var out []Directive

	checks := []struct {
		kind  LimitKind
		usage float64
		bound float64
	}{
		{LimitDelta, absf(snap.NetDelta), eff.delta},
		{LimitGamma, absf(snap.NetGamma), eff.gamma},
		{LimitVega, snap.VegaNotionalPct, eff.vega},
		{LimitSector, snap.MaxSectorExposure(), eff.sectorCap},
		{LimitPositionCount, float64(snap.PositionCount), float64(eff.maxPositions)},
		{LimitBroker, snap.MaxBrokerAllocation(), eff.brokerCap},
		{LimitVaR, snap.VaR95, eff.varPct * snap.PortfolioValue},
		{LimitES, snap.ES975, eff.esPct * snap.PortfolioValue},
	}

	for _, c := range checks {
		if c.bound <= 0 || c.usage <= c.bound*(1.0+tolerance) {
			continue
		}
		reduction := (c.usage - c.bound) / c.usage
		out = append(out, Directive{
			Type:               RebalanceDirective,
			Reason:             string(c.kind),
			Limit:              c.kind,
			TriggeredBy:        fmt.Sprintf("%s usage %.4f beyond bound %.4f (+%.0f%% tolerance)", c.kind, c.usage, c.bound, tolerance*100),
			TargetReductionPct: reduction,
			Timestamp:          now,
		})
	}

	return out
}
