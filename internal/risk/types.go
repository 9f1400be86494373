package risk

import (
	"fmt"
	"time"
)

// Hard limits. These are deploy-time constants; Settings can only tighten them.
const (
	MaxTradeUSD         = 50.0
	MaxPortfolioRiskPct = 0.01
	MaxDailyTrades      = 20
	MaxDailyLossPct     = 0.05
)

// Rejection reasons.
const (
	ReasonDailyTradeLimit  = "daily_trade_limit"
	ReasonDailyLossLimit   = "daily_loss_limit"
	ReasonInvalidSide      = "invalid_side"
	ReasonSymbolNotAllowed = "symbol_not_allowed"
	ReasonBelowMinimum     = "below_minimum"
)

// Settings are the per-instance caps. Clamped() bounds them by the hard limits.
type Settings struct {
	MaxPositionPct  float64 `json:"max_position_pct" yaml:"max_position_pct"`
	TrailingStopPct float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxConsecLosses int     `json:"max_consec_losses" yaml:"max_consec_losses"`
	MinTradeUSD     float64 `json:"min_trade_usd" yaml:"min_trade_usd"`
	MaxTradeUSD     float64 `json:"max_trade_usd" yaml:"max_trade_usd"`
}

// DefaultSettings returns the stock settings.
func DefaultSettings() Settings {
	return Settings{
		MaxPositionPct:  0.01,
		TrailingStopPct: 0.02,
		MaxDrawdownPct:  0.20,
		MaxConsecLosses: 5,
		MinTradeUSD:     2.0,
		MaxTradeUSD:     50.0,
	}
}

// Clamped returns s with every field bounded by the hard limits. Non-positive
// values fall back to the defaults.
func (s Settings) Clamped() Settings {
	def := DefaultSettings()
	if s.MaxPositionPct <= 0 {
		s.MaxPositionPct = def.MaxPositionPct
	}
	s.MaxPositionPct = min(s.MaxPositionPct, MaxPortfolioRiskPct)
	if s.MaxTradeUSD <= 0 {
		s.MaxTradeUSD = def.MaxTradeUSD
	}
	s.MaxTradeUSD = min(s.MaxTradeUSD, MaxTradeUSD)
	if s.MinTradeUSD < 0 {
		s.MinTradeUSD = def.MinTradeUSD
	}
	s.MinTradeUSD = min(s.MinTradeUSD, s.MaxTradeUSD)
	if s.TrailingStopPct < 0 || s.TrailingStopPct >= 1 {
		s.TrailingStopPct = def.TrailingStopPct
	}
	if s.MaxDrawdownPct <= 0 || s.MaxDrawdownPct > 1 {
		s.MaxDrawdownPct = def.MaxDrawdownPct
	}
	if s.MaxConsecLosses < 0 {
		s.MaxConsecLosses = def.MaxConsecLosses
	}
	return s
}

// Day is a UTC calendar date encoded as YYYYMMDD.
type Day int

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) Day {
	u := t.UTC()
	return Day(u.Year()*10000 + int(u.Month())*100 + u.Day())
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", int(d)/10000, int(d)/100%100, int(d)%100)
}

// DailyCounters track today's trade count and the equity the day started at.
type DailyCounters struct {
	Trades         int     `json:"trades"`
	BaselineEquity float64 `json:"baseline_equity"`
	ResetDay       Day     `json:"reset_day"`
}

// Rollover resets the counters if day differs from the last reset day and
// reports whether it did.
func (c *DailyCounters) Rollover(day Day, equity float64) bool {
	if c.ResetDay == day {
		return false
	}
	c.Reset(day, equity)
	return true
}

// Reset unconditionally starts a new accounting window.
func (c *DailyCounters) Reset(day Day, equity float64) {
	c.Trades = 0
	c.BaselineEquity = equity
	c.ResetDay = day
}

// LossPct is the fractional drop of equity from the baseline. Gains are 0.
func (c DailyCounters) LossPct(equity float64) float64 {
	if c.BaselineEquity <= 0 || equity >= c.BaselineEquity {
		return 0
	}
	return (c.BaselineEquity - equity) / c.BaselineEquity
}

// Request is an order as submitted to the gate.
type Request struct {
	Side      string
	Symbol    string
	AmountUSD float64
}

// Input is the state the gate evaluates a request against.
type Input struct {
	Equity float64
	Day    Day
	// CheckLoss enables the daily loss cap for this evaluation.
	CheckLoss bool
}

// Decision is the gate's verdict.
type Decision struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	AdjustedSize float64  `json:"adjusted_size"`
	DailyReset   bool     `json:"daily_reset"`
	LossBreach   bool     `json:"loss_breach"`
	LossPct      float64  `json:"loss_pct"`
}

// Err returns nil for an allowed decision and a *RejectionError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RejectionError{Reason: d.Reason, Detail: d.Detail}
}

// RejectionError is a validation rejection. It is an expected outcome, not a
// fault.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return "order rejected: " + e.Reason
	}
	return fmt.Sprintf("order rejected: %s (%s)", e.Reason, e.Detail)
}

// Metrics counts gate activity.
type Metrics struct {
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
	WarningsTotal   uint64 `json:"warnings_total"`
	LossBreaches    uint64 `json:"loss_breaches"`
	DailyResets     uint64 `json:"daily_resets"`
}
