// Package backtest replays a strategy over historical bars with the same
// allocation rules the bot loop uses and reports return, drawdown and Sharpe.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// DefaultInitialCash is the simulated starting balance.
const DefaultInitialCash = 10000.0

var ErrNoData = errors.New("backtest: no bars")

// Config controls a run.
type Config struct {
	InitialCash float64
	// Alloc is the fraction of cash spent on each entry.
	Alloc       float64
	MinTradeUSD float64
	// Interval drives Sharpe annualisation; empty means the strategy's
	// timeframe param.
	Interval string
	UseML    bool
}

// ConfigFrom builds a Config from risk settings and the strategy params.
func ConfigFrom(s risk.Settings, p strategy.Params) Config {
	return Config{
		InitialCash: DefaultInitialCash,
		Alloc:       s.MaxPositionPct,
		MinTradeUSD: s.MinTradeUSD,
		Interval:    p.String(strategy.ParamTimeframe, "1h"),
		UseML:       p.Bool(strategy.ParamUseML, false),
	}
}

// Fill is one simulated execution.
type Fill struct {
	Index int         `json:"index"`
	Side  common.Side `json:"side"`
	Price float64     `json:"price"`
	Qty   float64     `json:"qty"`
}

// Result summarises a run.
type Result struct {
	TotalReturn float64   `json:"total_return"`
	MaxDrawdown float64   `json:"max_drawdown"`
	Sharpe      float64   `json:"sharpe"`
	EquityCurve []float64 `json:"equity_curve"`
	Fills       []Fill    `json:"fills"`
	Interval    string    `json:"interval"`
	Bars        int       `json:"bars"`
}

// FinalEquity is the last point of the equity curve.
func (r *Result) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return 0
	}
	return r.EquityCurve[len(r.EquityCurve)-1]
}

// Trades counts round trips (sells).
func (r *Result) Trades() int {
	n := 0
	for _, f := range r.Fills {
		if f.Side == common.SideSell {
			n++
		}
	}
	return n
}

// Run simulates s over bars. When cfg.UseML is set and p is non-nil, entries
// also require a bullish prediction for the bar.
func Run(ctx context.Context, s strategy.Strategy, bars []market.Bar, cfg Config, p predict.Predictor) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = DefaultInitialCash
	}
	if cfg.Interval == "" {
		cfg.Interval = s.Params().String(strategy.ParamTimeframe, "1h")
	}

	f := strategy.Run(s, bars)
	entry := f.Entry
	if cfg.UseML && p != nil {
		gated, err := predict.Gate(ctx, p, bars, f.Entry)
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		entry = gated
	}

	res := &Result{
		EquityCurve: make([]float64, 0, len(bars)),
		Interval:    cfg.Interval,
		Bars:        len(bars),
	}
	cash, position := cfg.InitialCash, 0.0
	for i, price := range f.Close {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry[i] && position == 0 {
			amount := cash * cfg.Alloc
			if amount >= cfg.MinTradeUSD && price > 0 {
				qty := amount / price
				position = qty
				cash -= qty * price
				res.Fills = append(res.Fills, Fill{Index: i, Side: common.SideBuy, Price: price, Qty: qty})
			}
		}
		if f.Exit[i] && position > 0 {
			cash += position * price
			res.Fills = append(res.Fills, Fill{Index: i, Side: common.SideSell, Price: price, Qty: position})
			position = 0
		}
		res.EquityCurve = append(res.EquityCurve, cash+position*price)
	}

	res.TotalReturn = TotalReturn(res.EquityCurve, cfg.InitialCash)
	res.MaxDrawdown = MaxDrawdown(res.EquityCurve, cfg.InitialCash)
	res.Sharpe = Sharpe(StepReturns(res.EquityCurve), cfg.Interval)
	return res, nil
}
