package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

// decisionsRepo implements persistence.DecisionsRepo on postgres
type decisionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionsRepo creates the postgres decision audit repository
func NewDecisionsRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionsRepo {
	return &decisionsRepo{db: db, timeout: timeout}
}

// decisionRow maps the decisions table; list-typed fields ride as JSONB
type decisionRow struct {
	ID                   string          `db:"id"`
	CandidateID          string          `db:"candidate_id"`
	Symbol               string          `db:"symbol"`
	Strategy             string          `db:"strategy"`
	QuantScore           float64         `db:"quant_score"`
	InterpretiveScore    float64         `db:"interpretive_score"`
	InterpretiveDegraded bool            `db:"interpretive_degraded"`
	RiskAdjustment       float64         `db:"risk_adjustment"`
	FinalScore           float64         `db:"final_score"`
	HardFailures         json.RawMessage `db:"hard_failures"`
	Outcome              string          `db:"outcome"`
	State                string          `db:"state"`
	Sizing               []byte          `db:"sizing"`
	Resolution           sql.NullString  `db:"resolution"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

func toRow(rec *decision.Record) (decisionRow, error) {
	failures, err := json.Marshal(rec.HardFailures)
	if err != nil {
		return decisionRow{}, fmt.Errorf("marshaling hard failures: %w", err)
	}
	var sizingJSON json.RawMessage
	if rec.Sizing != nil {
		sizingJSON, err = json.Marshal(rec.Sizing)
		if err != nil {
			return decisionRow{}, fmt.Errorf("marshaling sizing result: %w", err)
		}
	}
	return decisionRow{
		ID:                   rec.ID,
		CandidateID:          rec.CandidateID,
		Symbol:               rec.Symbol,
		Strategy:             string(rec.Strategy),
		QuantScore:           rec.QuantScore,
		InterpretiveScore:    rec.InterpretiveScore,
		InterpretiveDegraded: rec.InterpretiveDegraded,
		RiskAdjustment:       rec.RiskAdjustment,
		FinalScore:           rec.FinalScore,
		HardFailures:         failures,
		Outcome:              string(rec.Outcome),
		State:                string(rec.State),
		Sizing:               sizingJSON,
		Resolution:           sql.NullString{String: rec.Resolution, Valid: rec.Resolution != ""},
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}, nil
}

func (row decisionRow) toRecord() (decision.Record, error) {
	rec := decision.Record{
		ID:                   row.ID,
		CandidateID:          row.CandidateID,
		Symbol:               row.Symbol,
		Strategy:             domain.StrategyType(row.Strategy),
		QuantScore:           row.QuantScore,
		InterpretiveScore:    row.InterpretiveScore,
		InterpretiveDegraded: row.InterpretiveDegraded,
		RiskAdjustment:       row.RiskAdjustment,
		FinalScore:           row.FinalScore,
		Outcome:              decision.Outcome(row.Outcome),
		State:                decision.State(row.State),
		Resolution:           row.Resolution.String,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if len(row.HardFailures) > 0 {
		if err := json.Unmarshal(row.HardFailures, &rec.HardFailures); err != nil {
			return decision.Record{}, fmt.Errorf("unmarshaling hard failures: %w", err)
		}
	}
	if len(row.Sizing) > 0 {
		var s sizing.Result
		if err := json.Unmarshal(row.Sizing, &s); err != nil {
			return decision.Record{}, fmt.Errorf("unmarshaling sizing result: %w", err)
		}
		rec.Sizing = &s
	}
	return rec, nil
}

const decisionColumns = `id, candidate_id, symbol, strategy, quant_score, interpretive_score,
	interpretive_degraded, risk_adjustment, final_score, hard_failures, outcome,
	state, sizing, resolution, created_at, updated_at`

func (r *decisionsRepo) Insert(ctx context.Context, rec *decision.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := toRow(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO decisions (` + decisionColumns + `)
		VALUES (:id, :candidate_id, :symbol, :strategy, :quant_score, :interpretive_score,
			:interpretive_degraded, :risk_adjustment, :final_score, :hard_failures, :outcome,
			:state, :sizing, :resolution, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("decision %s: %w", rec.ID, persistence.ErrDuplicate)
		}
		return fmt.Errorf("inserting decision %s: %w", rec.ID, err)
	}
	return nil
}

func (r *decisionsRepo) Update(ctx context.Context, rec *decision.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := toRow(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE decisions
		SET outcome = :outcome, state = :state, sizing = :sizing,
			resolution = :resolution, updated_at = :updated_at
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("updating decision %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("decision %s: %w", rec.ID, persistence.ErrNotFound)
	}
	return nil
}

func (r *decisionsRepo) Get(ctx context.Context, id string) (*decision.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row decisionRow
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decision %s: %w", id, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching decision %s: %w", id, err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *decisionsRepo) List(ctx context.Context, tr persistence.TimeRange, limit int) ([]decision.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3`

	var rows []decisionRow
	if err := r.db.SelectContext(ctx, &rows, query, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	return toRecords(rows)
}

func (r *decisionsRepo) ListByOutcome(ctx context.Context, outcome decision.Outcome, limit int) ([]decision.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE outcome = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var rows []decisionRow
	if err := r.db.SelectContext(ctx, &rows, query, string(outcome), limit); err != nil {
		return nil, fmt.Errorf("listing decisions by outcome: %w", err)
	}
	return toRecords(rows)
}

func toRecords(rows []decisionRow) ([]decision.Record, error) {
	out := make([]decision.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
