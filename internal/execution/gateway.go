package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/domain"
)

// Side is the order direction; the engine only opens short premium
type Side string

const (
	SellToOpen Side = "sell_to_open"
	BuyToClose Side = "buy_to_close"
)

// TimeInForce constrains how long the broker works the order
type TimeInForce string

const (
	Day TimeInForce = "day"
	GTC TimeInForce = "gtc"
)

// OrderIntent is the engine's terminal output for an approved, sized
// candidate. The engine never routes orders itself; the intent is handed
// to the execution collaborator and the decision goes terminal.
type OrderIntent struct {
	DecisionID  string                `json:"decision_id"`
	Contract    domain.OptionContract `json:"contract"`
	Strategy    domain.StrategyType   `json:"strategy"`
	Broker      string                `json:"broker"`
	Side        Side                  `json:"side"`
	Quantity    int                   `json:"quantity"`
	LimitPrice  float64               `json:"limit_price"`
	TimeInForce TimeInForce           `json:"time_in_force"`
	EmittedAt   time.Time             `json:"emitted_at"`
}

// Gateway delivers order intents to the external execution side
type Gateway interface {
	Emit(ctx context.Context, intent OrderIntent) error
}

// LogGateway records intents to the structured log without routing them.
// The default in dry-run and development configurations.
type LogGateway struct{}

func (LogGateway) Emit(ctx context.Context, intent OrderIntent) error {
	log.Info().
		Str("decision", intent.DecisionID).
		Str("symbol", intent.Contract.Symbol).
		Str("strategy", string(intent.Strategy)).
		Str("side", string(intent.Side)).
		Int("quantity", intent.Quantity).
		Float64("limit_price", intent.LimitPrice).
		Str("broker", intent.Broker).
		Msg("Order intent emitted")
	return nil
}
