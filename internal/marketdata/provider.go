package marketdata

import (
	"context"
	"time"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// Provider supplies the reference data the engine screens against. The
// engine core performs no I/O itself; every pull goes through this
// interface and is bounded by the caller's context.
type Provider interface {
	// Underlying returns current reference data for one symbol
	Underlying(ctx context.Context, symbol string) (domain.Underlying, error)

	// Chain returns the quoted option chain for one symbol
	Chain(ctx context.Context, symbol string) ([]domain.OptionContract, error)

	// VIX returns the current volatility index level
	VIX(ctx context.Context) (float64, error)

	// EarningsDate returns the next scheduled earnings date for a symbol.
	// The zero time means no earnings are scheduled inside the horizon.
	EarningsDate(ctx context.Context, symbol string) (time.Time, error)
}
