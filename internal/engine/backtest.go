package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/backtest"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

type prepared struct {
	name   string
	symbol string
	s      strategy.Strategy
	bars   []market.Bar
	cfg    backtest.Config
}

// prepare resolves a request into a private strategy instance, its bars and
// a run config. The registry is never touched.
func (e *Engine) prepare(ctx context.Context, req BacktestRequest) (*prepared, error) {
	name := strings.TrimSpace(req.Strategy)
	if name == "" {
		name = e.registry.ActiveName()
	}
	s, err := e.registry.Fresh(name)
	if err != nil {
		return nil, err
	}
	if len(req.Params) > 0 {
		if err := s.SetParams(req.Params); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = e.cfg.Symbol
	}
	interval := req.Interval
	if interval == "" {
		interval = s.Params().String(strategy.ParamTimeframe, e.cfg.Interval)
	}
	n := req.Bars
	if n <= 0 {
		n = e.cfg.BacktestBars
	}
	bars, err := e.bars.FetchBars(ctx, symbol, interval, n)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}

	cfg := backtest.ConfigFrom(e.router.Gate().Settings(), s.Params())
	cfg.Interval = interval
	if req.UseML != nil {
		cfg.UseML = *req.UseML
	}
	return &prepared{name: name, symbol: symbol, s: s, bars: bars, cfg: cfg}, nil
}

// Backtest replays the strategy over historical bars.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*BacktestReport, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := backtest.Run(ctx, p.s, p.bars, p.cfg, e.predictor)
	if err != nil {
		return nil, err
	}
	e.log.Info(fmt.Sprintf(i18n.M().BacktestDone, p.name, res.TotalReturn*100, res.MaxDrawdown*100, res.Sharpe),
		zap.String("symbol", p.symbol),
		zap.Int("bars", res.Bars),
		zap.Int("trades", res.Trades()))
	return &BacktestReport{Strategy: p.name, Symbol: p.symbol, Params: p.s.Params(), Result: res}, nil
}

// Hyperopt searches the strategy's parameter space on historical bars.
func (e *Engine) Hyperopt(ctx context.Context, req HyperoptRequest) (*HyperoptReport, error) {
	p, err := e.prepare(ctx, req.BacktestRequest)
	if err != nil {
		return nil, err
	}
	opt, err := backtest.Optimize(ctx, p.s, p.bars, backtest.OptimizeConfig{
		Trials: req.Trials,
		Seed:   req.Seed,
		Run:    p.cfg,
	}, e.predictor)
	if err != nil {
		return nil, err
	}
	out := &HyperoptReport{Strategy: p.name, Symbol: p.symbol, Optimization: opt}
	if opt.Best == nil {
		e.log.Warn("hyperopt found no valid parameters", zap.String("strategy", p.name), zap.Int("trials", len(opt.Trials)))
		return out, nil
	}
	e.log.Info("hyperopt finished",
		zap.String("strategy", p.name),
		zap.Float64("best_return", opt.BestScore),
		zap.Any("best", opt.Best))
	if req.Apply {
		if err := e.ConfigureStrategy(ctx, p.name, opt.Best); err != nil {
			return out, err
		}
		out.Applied = true
	}
	return out, nil
}
