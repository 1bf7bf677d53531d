package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/gates"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

// Outcome is the terminal-facing result of scoring one candidate
type Outcome string

const (
	Approved     Outcome = "approved"
	ManualReview Outcome = "manual_review"
	Rejected     Outcome = "rejected"
)

// State tracks a candidate through the decision lifecycle
type State string

const (
	StateScreened           State = "screened"
	StateScored             State = "scored"
	StateApproved           State = "approved"
	StateSized              State = "sized"
	StateOrderIntentEmitted State = "order_intent_emitted"
	StateRejected           State = "rejected"
	StateManualReview       State = "manual_review"
)

// transitions is the allowed state graph. Rejected and OrderIntentEmitted
// are terminal; ManualReview exits only through an external Resolve.
var transitions = map[State][]State{
	StateScreened:     {StateScored, StateRejected},
	StateScored:       {StateApproved, StateManualReview, StateRejected},
	StateApproved:     {StateSized, StateRejected, StateManualReview},
	StateSized:        {StateOrderIntentEmitted},
	StateManualReview: {StateApproved, StateRejected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Weights blends the three score components. Must sum to 1.
type Weights struct {
	Quant        float64 `yaml:"quant"`
	Interpretive float64 `yaml:"interpretive"`
	Risk         float64 `yaml:"risk"`
}

func DefaultWeights() Weights {
	return Weights{Quant: 0.70, Interpretive: 0.20, Risk: 0.10}
}

func (w Weights) Validate() error {
	sum := w.Quant + w.Interpretive + w.Risk
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("decision weights sum to %.3f, want 1.0: %w", sum, domain.ErrConfigInvalid)
	}
	if w.Quant < 0 || w.Interpretive < 0 || w.Risk < 0 {
		return fmt.Errorf("decision weights must be non-negative: %w", domain.ErrConfigInvalid)
	}
	return nil
}

// Bands holds the decision score cutoffs on the 0-10 scale
type Bands struct {
	Approve float64 `yaml:"approve"` // score >= Approve -> Approved
	Review  float64 `yaml:"review"`  // score in [Review, Approve) -> ManualReview
}

func DefaultBands() Bands {
	return Bands{Approve: 7.5, Review: 6.5}
}

func (b Bands) Validate() error {
	if b.Review >= b.Approve {
		return fmt.Errorf("review band %.2f must be below approve band %.2f: %w", b.Review, b.Approve, domain.ErrConfigInvalid)
	}
	if b.Review < 0 || b.Approve > 10 {
		return fmt.Errorf("decision bands outside [0, 10]: %w", domain.ErrConfigInvalid)
	}
	return nil
}

// Record is the persisted audit trail for one candidate decision
type Record struct {
	ID          string              `json:"id" db:"id"`
	CandidateID string              `json:"candidate_id" db:"candidate_id"`
	Symbol      string              `json:"symbol" db:"symbol"`
	Strategy    domain.StrategyType `json:"strategy" db:"strategy"`

	QuantScore           float64 `json:"quant_score" db:"quant_score"`
	InterpretiveScore    float64 `json:"interpretive_score" db:"interpretive_score"`
	InterpretiveDegraded bool    `json:"interpretive_degraded" db:"interpretive_degraded"`
	RiskAdjustment       float64 `json:"risk_adjustment" db:"risk_adjustment"`
	FinalScore           float64 `json:"final_score" db:"final_score"`

	HardFailures []string       `json:"hard_failures,omitempty"`
	Outcome      Outcome        `json:"outcome" db:"outcome"`
	State        State          `json:"state" db:"state"`
	Sizing       *sizing.Result `json:"sizing,omitempty"`
	Resolution   string         `json:"resolution,omitempty" db:"resolution"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Scorer merges quant, interpretive, and risk scores into a decision
type Scorer struct {
	weights Weights
	bands   Bands
	now     func() time.Time
}

func NewScorer(weights Weights, bands Bands) *Scorer {
	return &Scorer{weights: weights, bands: bands, now: time.Now}
}

// Decide produces the DecisionRecord for a screened candidate.
// Final score = 0.7 x quant + 0.2 x interpretive + 0.1 x risk adjustment,
// all on the 0-10 scale. Any hard-filter failure forces Rejected regardless
// of the numeric score. A degraded interpretive assessment caps the outcome
// at ManualReview: the neutral fallback score must not push a candidate
// over the approval band unreviewed.
func (s *Scorer) Decide(screening *gates.ScreeningResult, interpretive float64, degraded bool, riskAdjustment float64) *Record {
	now := s.now()
	rec := &Record{
		ID:                   uuid.New().String(),
		CandidateID:          screening.CandidateID,
		Symbol:               screening.Symbol,
		Strategy:             screening.Strategy,
		QuantScore:           screening.QuantScore,
		InterpretiveScore:    interpretive,
		InterpretiveDegraded: degraded,
		RiskAdjustment:       riskAdjustment,
		HardFailures:         screening.HardFailures,
		State:                StateScreened,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if len(screening.HardFailures) > 0 {
		rec.Outcome = Rejected
		rec.State = StateRejected
		log.Debug().
			Str("candidate", rec.CandidateID).
			Strs("hard_failures", rec.HardFailures).
			Msg("Candidate rejected on hard filters")
		return rec
	}

	rec.FinalScore = s.weights.Quant*screening.QuantScore +
		s.weights.Interpretive*interpretive +
		s.weights.Risk*riskAdjustment
	rec.State = StateScored

	switch {
	case rec.FinalScore >= s.bands.Approve && !degraded:
		rec.Outcome = Approved
		rec.State = StateApproved
	case rec.FinalScore >= s.bands.Review || (degraded && rec.FinalScore >= s.bands.Approve):
		rec.Outcome = ManualReview
		rec.State = StateManualReview
	default:
		rec.Outcome = Rejected
		rec.State = StateRejected
	}

	log.Debug().
		Str("candidate", rec.CandidateID).
		Float64("final_score", rec.FinalScore).
		Str("outcome", string(rec.Outcome)).
		Bool("interpretive_degraded", degraded).
		Msg("Candidate scored")
	return rec
}

// MarkSized records the sizing result on an approved decision
func (r *Record) MarkSized(res sizing.Result, now time.Time) error {
	if !canTransition(r.State, StateSized) {
		return fmt.Errorf("cannot size decision in state %s", r.State)
	}
	r.Sizing = &res
	r.State = StateSized
	r.UpdatedAt = now
	return nil
}

// MarkEmitted records that the order intent left the engine
func (r *Record) MarkEmitted(now time.Time) error {
	if !canTransition(r.State, StateOrderIntentEmitted) {
		return fmt.Errorf("cannot emit order intent in state %s", r.State)
	}
	r.State = StateOrderIntentEmitted
	r.UpdatedAt = now
	return nil
}

// RejectCapacity downgrades an approved decision whose sizing came back
// zero. Capacity exhaustion is a normal rejection, not an error path.
func (r *Record) RejectCapacity(reason string, now time.Time) error {
	if !canTransition(r.State, StateRejected) {
		return fmt.Errorf("cannot reject decision in state %s", r.State)
	}
	r.Outcome = Rejected
	r.State = StateRejected
	r.Resolution = reason
	r.UpdatedAt = now
	return nil
}

// Escalate downgrades an approved decision to manual review when the
// automated path cannot complete it, such as repeated commit conflicts.
func (r *Record) Escalate(reason string, now time.Time) error {
	if !canTransition(r.State, StateManualReview) {
		return fmt.Errorf("cannot escalate decision in state %s", r.State)
	}
	r.Outcome = ManualReview
	r.State = StateManualReview
	r.Resolution = reason
	r.UpdatedAt = now
	return nil
}

// Resolve applies an external reviewer's verdict to a ManualReview decision
func (r *Record) Resolve(outcome Outcome, note string, now time.Time) error {
	if r.State != StateManualReview {
		return fmt.Errorf("decision %s is not awaiting review (state %s)", r.ID, r.State)
	}
	switch outcome {
	case Approved:
		r.Outcome = Approved
		r.State = StateApproved
	case Rejected:
		r.Outcome = Rejected
		r.State = StateRejected
	default:
		return fmt.Errorf("resolve outcome must be approved or rejected, got %s", outcome)
	}
	r.Resolution = note
	r.UpdatedAt = now
	return nil
}
