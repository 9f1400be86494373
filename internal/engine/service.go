// Package engine runs the bot loop and is the single facade the API and CLI
// layers use to reach trading state.
package engine

import (
	"context"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
)

// Service is what the control layer may do with the engine.
type Service interface {
	// Queries
	Status(ctx context.Context) Status
	Positions() []Position
	RecentTrades(ctx context.Context, limit int) ([]ledger.Trade, error)
	Strategies() []StrategyInfo
	Metrics() monitor.MetricsSnapshot

	// Orders and mode
	PlaceOrder(ctx context.Context, side, symbol string, amountUSD float64) (*order.Result, error)
	EnableLive(ctx context.Context, confirmation string) error
	DisableLive(ctx context.Context, reason string) error
	BackendHealth(ctx context.Context) backend.HealthStatus

	// Strategies
	SetActiveStrategy(ctx context.Context, name string) error
	ConfigureStrategy(ctx context.Context, name string, p strategy.Params) error
	Backtest(ctx context.Context, req BacktestRequest) (*BacktestReport, error)
	Hyperopt(ctx context.Context, req HyperoptRequest) (*HyperoptReport, error)
}

var _ Service = (*Engine)(nil)
