package events

// Event enumerates high-level topics inside the bot.
type Event string

const (
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFailed    Event = "order.failed"
	EventModeChange     Event = "mode.change"
	EventRiskAlert      Event = "risk.alert"
	EventBackendHealth  Event = "backend.health"
	EventStrategySignal Event = "strategy.signal"
	EventStateDiverged  Event = "state.diverged"
)

// Fill is published for every booked trade.
type Fill struct {
	TradeID   string  `json:"trade_id"`
	Side      string  `json:"side"`
	Symbol    string  `json:"symbol"`
	AmountUSD float64 `json:"amount_usd"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
	Live      bool    `json:"live"`
	Path      string  `json:"path"`
	OrderID   string  `json:"order_id,omitempty"`
}

// Rejection is published when the risk gate or router refuses an order.
type Rejection struct {
	Side      string  `json:"side"`
	Symbol    string  `json:"symbol"`
	AmountUSD float64 `json:"amount_usd"`
	Reason    string  `json:"reason"`
	Detail    string  `json:"detail,omitempty"`
}

// Failure is published when a live path fails after the gate allowed it.
type Failure struct {
	Side   string `json:"side"`
	Symbol string `json:"symbol"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ModeChange is published on every transition between paper and live.
type ModeChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	// Forced is set when a safety check, not the operator, left live mode.
	Forced bool `json:"forced,omitempty"`
}

// Alert kinds raised outside the risk gate.
const (
	AlertBackendUnhealthy = "backend_unhealthy"
	AlertConsecLosses     = "consecutive_losses"
	AlertTrailingStop     = "trailing_stop"
	AlertPositionMismatch = "position_mismatch"
)

// RiskAlert is a safety breach.
type RiskAlert struct {
	Kind    string  `json:"kind"`
	LossPct float64 `json:"loss_pct,omitempty"`
	Message string  `json:"message"`
}

// BackendHealth is the result of a backend health check.
type BackendHealth struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Signal is a strategy decision for the latest bar.
type Signal struct {
	Strategy string  `json:"strategy"`
	Symbol   string  `json:"symbol"`
	Entry    bool    `json:"entry"`
	Exit     bool    `json:"exit"`
	Price    float64 `json:"price"`
}

// Divergence is a remote order whose local bookkeeping failed.
type Divergence struct {
	Fill  Fill   `json:"fill"`
	Error string `json:"error"`
}
