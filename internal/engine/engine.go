package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/persistence"
	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

const (
	DefaultLookback     = 100
	DefaultBacktestBars = 500
)

// Config holds the engine's static settings.
type Config struct {
	Venue    string
	Symbol   string
	Interval string
	// Lookback is the number of bars fetched per cycle.
	Lookback int
	// BacktestBars is the default history length for backtests.
	BacktestBars int
}

// Deps are the collaborators the engine composes. Router, Registry and Bars
// are required.
type Deps struct {
	Router    *order.Router
	Registry  *strategy.Registry
	Bars      market.Source
	Predictor predict.Predictor
	Store     persistence.Store
	// Trades, when set, serves RecentTrades from the database instead of
	// the in-memory ledger.
	Trades  TradeHistory
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger
}

// TradeHistory lists persisted trades newest first.
type TradeHistory interface {
	RecentTrades(ctx context.Context, limit int) ([]ledger.Trade, error)
}

// Engine composes the router, strategies, bar source and state store.
type Engine struct {
	cfg       Config
	router    *order.Router
	registry  *strategy.Registry
	bars      market.Source
	predictor predict.Predictor
	store     persistence.Store
	history   TradeHistory
	trailing  *risk.TrailingStop
	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	log       *zap.Logger

	saveMu     sync.Mutex
	pauseAlert atomic.Bool
	last       atomic.Pointer[CycleReport]

	// Now is the engine clock.
	Now func() time.Time
}

// New wires an engine. When a store is given every successful order saves
// state through it.
func New(cfg Config, d Deps) *Engine {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC/USDT"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.BacktestBars <= 0 {
		cfg.BacktestBars = DefaultBacktestBars
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	e := &Engine{
		cfg:       cfg,
		router:    d.Router,
		registry:  d.Registry,
		bars:      d.Bars,
		predictor: d.Predictor,
		store:     d.Store,
		history:   d.Trades,
		trailing:  risk.NewTrailingStop(d.Router.Gate().Settings().TrailingStopPct),
		bus:       d.Bus,
		metrics:   metrics,
		log:       logger.Named("engine"),
		Now:       time.Now,
	}
	d.Router.SetBus(d.Bus)
	d.Router.SetMetrics(metrics)
	if d.Store != nil {
		d.Router.SetSaver(order.StateSaverFunc(e.Save))
	}
	return e
}

func (e *Engine) Router() *order.Router        { return e.router }
func (e *Engine) Registry() *strategy.Registry { return e.registry }
func (e *Engine) Config() Config               { return e.cfg }

// Load restores persisted state. Missing state is not an error.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Load(ctx)
	if errors.Is(err, persistence.ErrNoState) {
		e.log.Info("no saved state, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	snap.Normalize()

	names := make([]string, 0, len(snap.Strategies))
	for n := range snap.Strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := e.registry.Configure(n, snap.Strategies[n]); err != nil {
			e.log.Warn("ignoring saved strategy params", zap.String("strategy", n), zap.Error(err))
		}
	}
	if snap.ActiveStrategy != "" {
		if err := e.registry.SetActive(snap.ActiveStrategy); err != nil {
			e.log.Warn("ignoring saved active strategy", zap.String("strategy", snap.ActiveStrategy), zap.Error(err))
		}
	}

	e.router.Gate().SetSettings(snap.Risk)
	e.router.SetCounters(snap.Counters)
	if snap.Mode == mode.DryRun {
		e.router.Mode().SetDryRun(true)
	}
	l := e.router.Ledger()
	l.Restore(snap.Positions, snap.Trades)
	e.trailing = risk.NewTrailingStop(e.router.Gate().Settings().TrailingStopPct)
	for _, p := range l.Positions() {
		e.trailing.Track(p.Symbol, p.EntryPrice)
	}
	e.log.Info(fmt.Sprintf(i18n.M().StateLoaded, len(l.Positions()), l.TradeCount()),
		zap.String("mode", string(snap.Mode)),
		zap.String("active_strategy", e.registry.ActiveName()))
	return nil
}

// Snapshot collects the current durable state.
func (e *Engine) Snapshot() *persistence.Snapshot {
	l := e.router.Ledger()
	return &persistence.Snapshot{
		Version:        persistence.Version,
		SavedAt:        e.Now().UTC(),
		Mode:           e.router.Mode().Mode(),
		ActiveStrategy: e.registry.ActiveName(),
		Strategies:     e.registry.AllParams(),
		Risk:           e.router.Gate().Settings(),
		Counters:       e.router.Counters(),
		Positions:      l.Positions(),
		Trades:         l.Trades(),
	}
}

// Save persists the current state.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if err := e.store.Save(ctx, e.Snapshot()); err != nil {
		e.log.Error("state save failed", zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	e.log.Debug("state saved")
	return nil
}

// Status reports mode, equity, positions and today's counters.
func (e *Engine) Status(ctx context.Context) Status {
	l := e.router.Ledger()
	settings := e.router.Gate().Settings()
	perf := l.Performance()
	counters := e.router.Counters()
	st := Status{
		Mode:            e.router.Mode().Snapshot(),
		Venue:           e.cfg.Venue,
		Symbol:          e.cfg.Symbol,
		Interval:        e.cfg.Interval,
		ActiveStrategy:  e.registry.ActiveName(),
		Positions:       e.Positions(),
		TradeCount:      l.TradeCount(),
		RealizedPnL:     l.RealizedPnL(),
		DailyTrades:     counters.Trades,
		DailyTradeLimit: risk.MaxDailyTrades,
		Performance:     perf,
		EntriesPaused:   paused(perf, settings),
		Risk:            settings,
		LastCycle:       e.last.Load(),
		ServerTime:      e.Now().UTC(),
	}
	eq, err := e.router.Equity(ctx)
	if err != nil {
		st.EquityError = err.Error()
	} else {
		st.Equity = eq
		st.DailyLossPct = counters.LossPct(eq)
	}
	if st.Mode.BackendEnabled {
		h := e.router.BackendStatus(ctx)
		st.Backend = &h
	}
	return st
}

// Positions values open positions at the last seen price.
func (e *Engine) Positions() []Position {
	l := e.router.Ledger()
	out := make([]Position, 0)
	for _, p := range l.Positions() {
		mark, ok := l.LastPrice(p.Symbol)
		if !ok {
			mark = p.EntryPrice
		}
		out = append(out, Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     mark,
			Value:         p.Value(mark),
			UnrealizedPnL: (mark - p.EntryPrice) * p.Qty,
			EntryTime:     p.EntryTime,
		})
	}
	return out
}

// RecentTrades returns up to limit trades, newest first.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if e.history != nil {
		return e.history.RecentTrades(ctx, limit)
	}
	return e.router.Ledger().Recent(limit), nil
}

func (e *Engine) Metrics() monitor.MetricsSnapshot { return e.metrics.GetSnapshot() }

// PlaceOrder routes a manual order and keeps the trailing stop in step.
func (e *Engine) PlaceOrder(ctx context.Context, side, symbol string, amountUSD float64) (*order.Result, error) {
	res, err := e.router.PlaceOrder(ctx, side, symbol, amountUSD)
	if err != nil {
		return nil, err
	}
	e.track(res.Trade)
	return res, nil
}

func (e *Engine) track(t ledger.Trade) {
	if _, held := e.router.Ledger().Position(t.Symbol); !held {
		e.trailing.Remove(t.Symbol)
		return
	}
	if t.Side == "buy" {
		e.trailing.Track(t.Symbol, t.Price)
	}
}

func (e *Engine) EnableLive(ctx context.Context, confirmation string) error {
	if err := e.router.EnableLive(ctx, confirmation); err != nil {
		return err
	}
	e.saveQuietly(ctx)
	return nil
}

func (e *Engine) DisableLive(ctx context.Context, reason string) error {
	e.router.DisableLive(ctx, reason)
	return e.Save(ctx)
}

// BackendHealth checks the proxy. A failure while live on backend routing
// drops to paper.
func (e *Engine) BackendHealth(ctx context.Context) backend.HealthStatus {
	return e.router.CheckBackend(ctx)
}

func (e *Engine) Strategies() []StrategyInfo {
	active := e.registry.ActiveName()
	params := e.registry.AllParams()
	out := make([]StrategyInfo, 0, len(params))
	for _, n := range e.registry.Names() {
		out = append(out, StrategyInfo{Name: n, Active: n == active, Params: params[n]})
	}
	return out
}

func (e *Engine) SetActiveStrategy(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := e.registry.SetActive(name); err != nil {
		return err
	}
	e.log.Info(fmt.Sprintf(i18n.M().StrategyChanged, name))
	return e.Save(ctx)
}

func (e *Engine) ConfigureStrategy(ctx context.Context, name string, p strategy.Params) error {
	if err := e.registry.Configure(name, p); err != nil {
		return err
	}
	e.log.Info("strategy params updated", zap.String("strategy", name), zap.Any("params", p))
	return e.Save(ctx)
}

func (e *Engine) saveQuietly(ctx context.Context) {
	if err := e.Save(ctx); err != nil {
		e.log.Warn("state save failed", zap.Error(err))
	}
}

// paused reports whether the loss streak blocks new entries.
func paused(perf risk.Performance, s risk.Settings) bool {
	return s.MaxConsecLosses > 0 && perf.ConsecLosses >= s.MaxConsecLosses
}
