package engine

import (
	"time"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/backtest"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
)

// Position is an open position valued at the last seen price.
type Position struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Value         float64   `json:"value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	EntryTime     time.Time `json:"entry_time"`
}

// Status is the operator view of the bot.
type Status struct {
	Mode            mode.Snapshot         `json:"mode"`
	Venue           string                `json:"venue"`
	Symbol          string                `json:"symbol"`
	Interval        string                `json:"interval"`
	ActiveStrategy  string                `json:"active_strategy"`
	Equity          float64               `json:"equity"`
	EquityError     string                `json:"equity_error,omitempty"`
	Positions       []Position            `json:"positions"`
	TradeCount      int                   `json:"trade_count"`
	RealizedPnL     float64               `json:"realized_pnl"`
	DailyTrades     int                   `json:"daily_trades"`
	DailyTradeLimit int                   `json:"daily_trade_limit"`
	DailyLossPct    float64               `json:"daily_loss_pct"`
	Performance     risk.Performance      `json:"performance"`
	EntriesPaused   bool                  `json:"entries_paused"`
	Risk            risk.Settings         `json:"risk_settings"`
	Backend         *backend.HealthStatus `json:"backend,omitempty"`
	LastCycle       *CycleReport          `json:"last_cycle,omitempty"`
	ServerTime      time.Time             `json:"server_time"`
}

// Action is what a cycle did.
type Action string

const (
	ActionHold     Action = "hold"
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionStop     Action = "trailing_stop"
	ActionPaused   Action = "paused"
	ActionRejected Action = "rejected"
	ActionError    Action = "error"
)

// CycleReport describes one pass of the bot loop.
type CycleReport struct {
	Time     time.Time     `json:"time"`
	Symbol   string        `json:"symbol"`
	Strategy string        `json:"strategy"`
	Bars     int           `json:"bars"`
	Price    float64       `json:"price"`
	Entry    bool          `json:"entry"`
	Exit     bool          `json:"exit"`
	Action   Action        `json:"action"`
	Order    *order.Result `json:"order,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// StrategyInfo lists a registered strategy.
type StrategyInfo struct {
	Name   string          `json:"name"`
	Active bool            `json:"active"`
	Params strategy.Params `json:"params"`
}

// BacktestRequest selects what to backtest. Empty fields fall back to the
// active strategy, the configured symbol and the strategy's timeframe.
type BacktestRequest struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Bars     int             `json:"bars"`
	Params   strategy.Params `json:"params"`
	UseML    *bool           `json:"use_ml"`
}

// BacktestReport is a backtest together with what it ran on.
type BacktestReport struct {
	Strategy string           `json:"strategy"`
	Symbol   string           `json:"symbol"`
	Params   strategy.Params  `json:"params"`
	Result   *backtest.Result `json:"result"`
}

// HyperoptRequest runs a random search. Apply installs the best params on
// the registry and saves state.
type HyperoptRequest struct {
	BacktestRequest
	Trials int   `json:"trials"`
	Seed   int64 `json:"seed"`
	Apply  bool  `json:"apply"`
}

// HyperoptReport is the outcome of a search.
type HyperoptReport struct {
	Strategy     string                 `json:"strategy"`
	Symbol       string                 `json:"symbol"`
	Optimization *backtest.Optimization `json:"optimization"`
	Applied      bool                   `json:"applied"`
}
