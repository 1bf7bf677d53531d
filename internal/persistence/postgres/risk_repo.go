package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

// snapshotsRepo implements persistence.SnapshotsRepo on postgres. Each
// snapshot lands as one JSONB row keyed by its timestamp, which keeps the
// audit trail schema-stable as limit kinds evolve.
type snapshotsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotsRepo creates the postgres risk snapshot repository
func NewSnapshotsRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotsRepo {
	return &snapshotsRepo{db: db, timeout: timeout}
}

func (r *snapshotsRepo) Insert(ctx context.Context, snap *risk.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	query := `INSERT INTO risk_snapshots (ts, snapshot) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, snap.Timestamp, body); err != nil {
		return fmt.Errorf("inserting snapshot at %s: %w", snap.Timestamp, err)
	}
	return nil
}

func (r *snapshotsRepo) Latest(ctx context.Context) (*risk.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body json.RawMessage
	query := `SELECT snapshot FROM risk_snapshots ORDER BY ts DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &body, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("risk snapshot: %w", persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching latest snapshot: %w", err)
	}

	var snap risk.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}

// directivesRepo implements persistence.DirectivesRepo on postgres
type directivesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDirectivesRepo creates the postgres directives repository
func NewDirectivesRepo(db *sqlx.DB, timeout time.Duration) persistence.DirectivesRepo {
	return &directivesRepo{db: db, timeout: timeout}
}

type directiveRow struct {
	Type               string    `db:"type"`
	PositionID         string    `db:"position_id"`
	Symbol             string    `db:"symbol"`
	Reason             string    `db:"reason"`
	TriggeredBy        string    `db:"triggered_by"`
	LimitKind          string    `db:"limit_kind"`
	TargetReductionPct float64   `db:"target_reduction_pct"`
	Timestamp          time.Time `db:"ts"`
}

func (r *directivesRepo) Insert(ctx context.Context, d risk.Directive) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO directives (type, position_id, symbol, reason, triggered_by, limit_kind, target_reduction_pct, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		string(d.Type), d.PositionID, d.Symbol, d.Reason, d.TriggeredBy,
		string(d.Limit), d.TargetReductionPct, d.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting directive for %s: %w", d.Symbol, err)
	}
	return nil
}

func (r *directivesRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]risk.Directive, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT type, position_id, symbol, reason, triggered_by, limit_kind, target_reduction_pct, ts
		FROM directives
		WHERE ts >= $1
		ORDER BY ts DESC
		LIMIT $2`

	var rows []directiveRow
	if err := r.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		return nil, fmt.Errorf("listing directives: %w", err)
	}

	out := make([]risk.Directive, 0, len(rows))
	for _, row := range rows {
		out = append(out, risk.Directive{
			Type:               risk.DirectiveType(row.Type),
			PositionID:         row.PositionID,
			Symbol:             row.Symbol,
			Reason:             row.Reason,
			TriggeredBy:        row.TriggeredBy,
			Limit:              risk.LimitKind(row.LimitKind),
			TargetReductionPct: row.TargetReductionPct,
			Timestamp:          row.Timestamp,
		})
	}
	return out, nil
}
