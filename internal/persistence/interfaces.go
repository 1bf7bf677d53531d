package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

var (
	// ErrDuplicate signals a unique-constraint violation on insert
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound signals a lookup that matched nothing
	ErrNotFound = errors.New("record not found")
)

// TimeRange bounds audit queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DecisionsRepo stores the per-candidate decision audit trail
type DecisionsRepo interface {
	// Insert persists a freshly scored decision
	Insert(ctx context.Context, rec *decision.Record) error

	// Update rewrites a decision after a state transition
	Update(ctx context.Context, rec *decision.Record) error

	// Get retrieves one decision by ID
	Get(ctx context.Context, id string) (*decision.Record, error)

	// List returns decisions inside a time range, newest first
	List(ctx context.Context, tr TimeRange, limit int) ([]decision.Record, error)

	// ListByOutcome returns recent decisions with the given outcome
	ListByOutcome(ctx context.Context, outcome decision.Outcome, limit int) ([]decision.Record, error)
}

// PositionsRepo stores open and closed short-option positions
type PositionsRepo interface {
	Insert(ctx context.Context, pos domain.Position) error

	// MarkClosed records the closing premium and timestamp
	MarkClosed(ctx context.Context, id string, closingPremium float64, closedAt time.Time) error

	// ListOpen returns all open positions for portfolio reconstruction
	ListOpen(ctx context.Context) ([]domain.Position, error)
}

// SnapshotsRepo stores the risk snapshot history for audit and replay
type SnapshotsRepo interface {
	Insert(ctx context.Context, snap *risk.Snapshot) error

	// Latest returns the most recent snapshot
	Latest(ctx context.Context) (*risk.Snapshot, error)
}

// DirectivesRepo stores emitted stop-loss and rebalance directives
type DirectivesRepo interface {
	Insert(ctx context.Context, d risk.Directive) error

	// ListSince returns directives emitted at or after the given time
	ListSince(ctx context.Context, since time.Time, limit int) ([]risk.Directive, error)
}
