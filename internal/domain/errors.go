package domain

import "errors"

// Sentinel errors for the engine's failure taxonomy. Non-fatal conditions
// (stop-loss, rebalance, insufficient capacity) flow through results and
// directives rather than errors; these cover the cases callers branch on.
var (
	// ErrDataUnavailable marks a candidate with missing Greeks or quote data.
	// The candidate is excluded from the current cycle and retried on the
	// next data refresh.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrConfigInvalid is fatal at startup: malformed weights, bands, or
	// regime tables.
	ErrConfigInvalid = errors.New("configuration invalid")

	// ErrSnapshotStale indicates a risk snapshot older than the freshness
	// window was used where a fresh one is required.
	ErrSnapshotStale = errors.New("risk snapshot stale")

	// ErrConcurrentMutation indicates a sizing commit lost a race on
	// portfolio capacity and should be retried against a refreshed snapshot.
	ErrConcurrentMutation = errors.New("concurrent portfolio mutation")

	// ErrRiskLimitBreach indicates a commit would cross a portfolio risk
	// bound that sizing does not allocate against. Retrying cannot help;
	// the decision escalates instead.
	ErrRiskLimitBreach = errors.New("portfolio risk limit breached")

	// ErrInsufficientCapacity indicates sizing floored to zero contracts.
	// This is a normal decision outcome, not an exceptional failure.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrInterpretiveTimeout indicates the interpretive scoring service
	// timed out or its circuit is open; callers degrade to a neutral score.
	ErrInterpretiveTimeout = errors.New("interpretive service timeout")
)
