package http

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	dto "github.com/prometheus/client_model/go"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

// MetricsRegistry holds all prometheus metrics for the engine
type MetricsRegistry struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	lastRegime catalyst.Regime
	seenRegime bool

	// Pipeline step metrics
	StepDuration *prometheus.HistogramVec
	StepsTotal   *prometheus.CounterVec

	// Screening and decision metrics
	ScreeningsTotal    *prometheus.CounterVec
	DecisionOutcomes   *prometheus.CounterVec
	BindingConstraints *prometheus.CounterVec
	CommitConflicts    prometheus.Counter

	// Risk metrics
	Headroom     *prometheus.GaugeVec
	SnapshotAge  prometheus.Gauge
	Directives   *prometheus.CounterVec
	ActiveRegime prometheus.Gauge

	// Regime metrics
	RegimeSwitches *prometheus.CounterVec
}

// NewMetricsRegistry creates the engine metrics on a private registry
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wheelhouse_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"step", "result"},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_pipeline_steps_total",
				Help: "Total pipeline steps executed by step and result",
			},
			[]string{"step", "result"},
		),

		ScreeningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_screenings_total",
				Help: "Total candidates screened by strategy and pass/fail",
			},
			[]string{"strategy", "result"},
		),

		DecisionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_decisions_total",
				Help: "Total decisions by outcome",
			},
			[]string{"outcome"},
		),

		BindingConstraints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_sizing_binding_constraints_total",
				Help: "Sized trades by the constraint that bound the quantity",
			},
			[]string{"constraint"},
		),

		CommitConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wheelhouse_commit_conflicts_total",
				Help: "Total concurrent-mutation conflicts during capacity commits",
			},
		),

		Headroom: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wheelhouse_risk_headroom",
				Help: "Remaining fraction of each portfolio risk limit",
			},
			[]string{"limit"},
		),

		SnapshotAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wheelhouse_risk_snapshot_age_seconds",
				Help: "Age of the authoritative risk snapshot",
			},
		),

		Directives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_directives_total",
				Help: "Stop-loss and rebalance directives by type and reason",
			},
			[]string{"type", "reason"},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wheelhouse_active_regime",
				Help: "Current catalyst regime as its severity rank",
			},
		),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelhouse_regime_switches_total",
				Help: "Regime transitions by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),
	}

	m.registry.MustRegister(
		m.StepDuration,
		m.StepsTotal,
		m.ScreeningsTotal,
		m.DecisionOutcomes,
		m.BindingConstraints,
		m.CommitConflicts,
		m.Headroom,
		m.SnapshotAge,
		m.Directives,
		m.ActiveRegime,
		m.RegimeSwitches,
	)
	return m
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	st.metrics.StepsTotal.WithLabelValues(st.step, result).Inc()

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
}

// UpdateRiskGauges refreshes the per-limit headroom gauges and snapshot age
func (m *MetricsRegistry) UpdateRiskGauges(agg *risk.Aggregator, now time.Time) {
	for kind, h := range agg.Headrooms() {
		m.Headroom.WithLabelValues(string(kind)).Set(h)
	}
	if snap := agg.Snapshot(); snap != nil {
		m.SnapshotAge.Set(now.Sub(snap.Timestamp).Seconds())
	}
}

// RecordDirective counts an emitted directive
func (m *MetricsRegistry) RecordDirective(d risk.Directive) {
	m.Directives.WithLabelValues(string(d.Type), d.Reason).Inc()
}

// ObserveRegime records the active regime as its severity rank and counts
// the transition when it moved since the last observation.
func (m *MetricsRegistry) ObserveRegime(regime catalyst.Regime) {
	m.ActiveRegime.Set(float64(regime))

	m.mu.Lock()
	prev, seen := m.lastRegime, m.seenRegime
	m.lastRegime, m.seenRegime = regime, true
	m.mu.Unlock()

	if seen && prev != regime {
		m.RegimeSwitches.WithLabelValues(prev.String(), regime.String()).Inc()
	}
}

// gaugeValue reads one gauge back out of the registry, for handlers that
// surface a metric in JSON without keeping shadow state.
func (m *MetricsRegistry) gaugeValue(name string) (float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return 0, fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, metric := range mf.GetMetric() {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %s not found", name)
}
