package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
)

// positionsRepo implements persistence.PositionsRepo on postgres
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates the postgres positions repository
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionsRepo {
	return &positionsRepo{db: db, timeout: timeout}
}

type positionRow struct {
	ID              string    `db:"id"`
	Symbol          string    `db:"symbol"`
	Sector          string    `db:"sector"`
	Broker          string    `db:"broker"`
	Strike          float64   `db:"strike"`
	Expiration      time.Time `db:"expiration"`
	Type            string    `db:"type"`
	Mode            string    `db:"mode"`
	Quantity        int       `db:"quantity"`
	EntryPremium    float64   `db:"entry_premium"`
	CurrentPremium  float64   `db:"current_premium"`
	EntryDate       time.Time `db:"entry_date"`
	Delta           float64   `db:"delta"`
	Gamma           float64   `db:"gamma"`
	Vega            float64   `db:"vega"`
	ImpliedVol      float64   `db:"implied_vol"`
	TrailingAvgIV   float64   `db:"trailing_avg_iv"`
	EntryVIX        float64   `db:"entry_vix"`
	EntrySpreadPct  float64   `db:"entry_spread_pct"`
	SpreadPct       float64   `db:"spread_pct"`
	UnderlyingPrice float64   `db:"underlying_price"`
}

func (row positionRow) toPosition() domain.Position {
	return domain.Position{
		ID:              row.ID,
		Symbol:          row.Symbol,
		Sector:          row.Sector,
		Broker:          row.Broker,
		Strike:          row.Strike,
		Expiration:      row.Expiration,
		Type:            domain.OptionType(row.Type),
		Mode:            domain.OwnershipMode(row.Mode),
		Quantity:        row.Quantity,
		EntryPremium:    row.EntryPremium,
		CurrentPremium:  row.CurrentPremium,
		EntryDate:       row.EntryDate,
		Delta:           row.Delta,
		Gamma:           row.Gamma,
		Vega:            row.Vega,
		ImpliedVol:      row.ImpliedVol,
		TrailingAvgIV:   row.TrailingAvgIV,
		EntryVIX:        row.EntryVIX,
		EntrySpreadPct:  row.EntrySpreadPct,
		SpreadPct:       row.SpreadPct,
		UnderlyingPrice: row.UnderlyingPrice,
	}
}

func (r *positionsRepo) Insert(ctx context.Context, pos domain.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (id, symbol, sector, broker, strike, expiration, type, mode,
			quantity, entry_premium, current_premium, entry_date, delta, gamma, vega,
			implied_vol, trailing_avg_iv, entry_vix, entry_spread_pct, spread_pct, underlying_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Sector, pos.Broker, pos.Strike, pos.Expiration,
		string(pos.Type), string(pos.Mode), pos.Quantity, pos.EntryPremium,
		pos.CurrentPremium, pos.EntryDate, pos.Delta, pos.Gamma, pos.Vega,
		pos.ImpliedVol, pos.TrailingAvgIV, pos.EntryVIX, pos.EntrySpreadPct,
		pos.SpreadPct, pos.UnderlyingPrice)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("position %s: %w", pos.ID, persistence.ErrDuplicate)
		}
		return fmt.Errorf("inserting position %s: %w", pos.ID, err)
	}
	return nil
}

func (r *positionsRepo) MarkClosed(ctx context.Context, id string, closingPremium float64, closedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE positions
		SET closed_at = $1, closing_premium = $2
		WHERE id = $3 AND closed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, closedAt, closingPremium, id)
	if err != nil {
		return fmt.Errorf("closing position %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("open position %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *positionsRepo) ListOpen(ctx context.Context) ([]domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, sector, broker, strike, expiration, type, mode,
			quantity, entry_premium, current_premium, entry_date, delta, gamma, vega,
			implied_vol, trailing_avg_iv, entry_vix, entry_spread_pct, spread_pct, underlying_price
		FROM positions
		WHERE closed_at IS NULL
		ORDER BY entry_date`

	var rows []positionRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing open positions: %w", err)
	}

	out := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPosition())
	}
	return out, nil
}
