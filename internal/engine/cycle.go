package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
)

// RunCycles runs the bot loop. cycles <= 0 runs until ctx is cancelled. State
// is saved when the loop ends; cancellation is a normal stop.
func (e *Engine) RunCycles(ctx context.Context, cycles int, interval time.Duration) error {
	e.log.Info("bot loop starting",
		zap.String("symbol", e.cfg.Symbol),
		zap.String("interval", e.cfg.Interval),
		zap.Int("cycles", cycles),
		zap.Duration("sleep", interval),
		zap.String("mode", string(e.router.Mode().Mode())))

	var loopErr error
	for i := 0; cycles <= 0 || i < cycles; i++ {
		if e.router.Mode().BackendEnabled() {
			e.router.CheckBackend(ctx)
		}
		e.Cycle(ctx)
		if cycles > 0 && i == cycles-1 {
			break
		}
		if err := exchange.SleepContext(ctx, interval); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				loopErr = err
			}
			break
		}
	}

	// ctx may already be done; the final save gets its own deadline.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.Save(saveCtx); err != nil && loopErr == nil {
		loopErr = err
	}
	e.log.Info("bot loop stopped")
	return loopErr
}

// Cycle fetches bars, evaluates the active strategy on the latest bar and
// trades on its signal: buy when flat on entry, sell the whole position on
// exit or when the trailing stop is hit. A loss streak of MaxConsecLosses
// pauses new entries.
func (e *Engine) Cycle(ctx context.Context) *CycleReport {
	timer := monitor.NewTimer(e.metrics.CycleLatency)
	defer timer.Stop()
	e.metrics.IncrementCycles()

	symbol := e.cfg.Symbol
	rep := &CycleReport{Time: e.Now().UTC(), Symbol: symbol, Strategy: e.registry.ActiveName(), Action: ActionHold}
	defer e.last.Store(rep)

	s, err := e.registry.Fresh(rep.Strategy)
	if err != nil {
		return e.cycleError(rep, err)
	}
	bars, err := e.bars.FetchBars(ctx, symbol, e.cfg.Interval, e.cfg.Lookback)
	if err != nil {
		return e.cycleError(rep, fmt.Errorf("fetch bars: %w", err))
	}
	if len(bars) == 0 {
		return e.cycleError(rep, errors.New("fetch bars: empty"))
	}
	rep.Bars = len(bars)
	rep.Price = bars[len(bars)-1].Close

	l := e.router.Ledger()
	l.Mark(symbol, rep.Price)

	f := strategy.Run(s, bars)
	rep.Entry, rep.Exit = f.Last()
	if rep.Entry && s.Params().Bool(strategy.ParamUseML, false) && e.predictor != nil {
		gated, err := predict.Gate(ctx, e.predictor, bars, f.Entry)
		if err != nil {
			e.log.Warn("predictor unavailable, entry suppressed", zap.Error(err))
			rep.Entry = false
		} else {
			rep.Entry = gated[len(gated)-1]
		}
	}
	if rep.Entry || rep.Exit {
		e.bus.Publish(events.EventStrategySignal, events.Signal{
			Strategy: rep.Strategy, Symbol: symbol, Entry: rep.Entry, Exit: rep.Exit, Price: rep.Price,
		})
		e.log.Info(fmt.Sprintf(i18n.M().StrategySignal, rep.Strategy, symbol, rep.Entry, rep.Exit),
			zap.Float64("price", rep.Price))
	}

	held, hasPosition := l.Position(symbol)
	if hasPosition {
		e.trailing.Track(symbol, held.EntryPrice)
		if stop, hit := e.trailing.Update(symbol, rep.Price); hit && !rep.Exit {
			msg := fmt.Sprintf(i18n.M().TrailingStopHit, symbol, stop)
			e.log.Warn(msg, zap.Float64("price", rep.Price))
			e.bus.Publish(events.EventRiskAlert, events.RiskAlert{Kind: events.AlertTrailingStop, Message: msg})
			rep.Action = ActionStop
			return e.trade(ctx, rep, "sell", held.Value(rep.Price))
		}
		if rep.Exit {
			rep.Action = ActionSell
			return e.trade(ctx, rep, "sell", held.Value(rep.Price))
		}
		return rep
	}

	if !rep.Entry {
		return rep
	}
	settings := e.router.Gate().Settings()
	perf := l.Performance()
	if paused(perf, settings) {
		rep.Action = ActionPaused
		if e.pauseAlert.CompareAndSwap(false, true) {
			msg := fmt.Sprintf(i18n.M().ConsecLossPause, perf.ConsecLosses)
			e.log.Warn(msg)
			e.bus.Publish(events.EventRiskAlert, events.RiskAlert{Kind: events.AlertConsecLosses, Message: msg})
		}
		return rep
	}
	e.pauseAlert.Store(false)

	equity, err := e.router.Equity(ctx)
	if err != nil {
		return e.cycleError(rep, err)
	}
	rep.Action = ActionBuy
	amount := min(equity*min(settings.MaxPositionPct, risk.MaxPortfolioRiskPct), risk.MaxTradeUSD)
	return e.trade(ctx, rep, "buy", amount)
}

func (e *Engine) trade(ctx context.Context, rep *CycleReport, side string, amount float64) *CycleReport {
	res, err := e.PlaceOrder(ctx, side, rep.Symbol, amount)
	if err != nil {
		var rej *risk.RejectionError
		if errors.As(err, &rej) || errors.Is(err, order.ErrNoPosition) {
			rep.Action = ActionRejected
			rep.Error = err.Error()
			e.log.Info("cycle order rejected", zap.String("side", side), zap.Error(err))
			return rep
		}
		return e.cycleError(rep, err)
	}
	rep.Order = res
	return rep
}

func (e *Engine) cycleError(rep *CycleReport, err error) *CycleReport {
	e.metrics.IncrementErrors()
	e.log.Error("cycle failed", zap.String("symbol", rep.Symbol), zap.Error(err))
	rep.Action = ActionError
	rep.Error = err.Error()
	return rep
}
