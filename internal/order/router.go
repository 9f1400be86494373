// Package order turns validated orders into fills on the paper, exchange or
// backend path and books them in the ledger.
package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

// Config holds the router's static settings.
type Config struct {
	// Venue is the exchange name sent to the backend proxy.
	Venue string
	// PaperPrice is used on the paper path when no price can be fetched.
	PaperPrice float64
	// PaperEquity is the starting equity of the simulated account.
	PaperEquity float64
	// PaperLossCheck applies the daily loss cap to paper equity too.
	PaperLossCheck bool
}

// Router is the single place orders are executed. One lock serialises orders,
// mode transitions and backend health checks.
type Router struct {
	cfg    Config
	mode   *mode.Controller
	gate   *risk.Gate
	ledger *ledger.Ledger

	exch    *exchange.Adapter
	backend Backend
	userID  string

	bus     *events.Bus
	saver   StateSaver
	metrics *monitor.SystemMetrics
	log     *zap.Logger

	// Now is the router clock. Tests replace it to move across UTC days.
	Now func() time.Time

	mu       sync.Mutex
	stateMu  sync.RWMutex
	counters risk.DailyCounters
}

// NewRouter creates a router on the paper path.
func NewRouter(cfg Config, mc *mode.Controller, gate *risk.Gate, l *ledger.Ledger, logger *zap.Logger) *Router {
	if cfg.PaperPrice <= 0 {
		cfg.PaperPrice = 50000
	}
	if cfg.PaperEquity <= 0 {
		cfg.PaperEquity = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:    cfg,
		mode:   mc,
		gate:   gate,
		ledger: l,
		log:    logger.Named("order"),
		Now:    time.Now,
	}
}

// SetExchange installs the exchange adapter. Only an authenticated session
// counts as a live execution path.
func (r *Router) SetExchange(a *exchange.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exch = a
	r.mode.SetExchangeConfigured(a != nil && a.Authenticated())
}

// SetBackend installs the backend proxy for userID and turns routing on or off.
func (r *Router) SetBackend(b Backend, userID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = b
	r.userID = userID
	r.mode.SetBackendEnabled(enabled && b != nil && userID != "")
}

// SetBus sets the event bus.
func (r *Router) SetBus(b *events.Bus) { r.bus = b }

// SetSaver sets what persists state after each order.
func (r *Router) SetSaver(s StateSaver) { r.saver = s }

// SetMetrics sets the latency sink.
func (r *Router) SetMetrics(m *monitor.SystemMetrics) { r.metrics = m }

func (r *Router) Mode() *mode.Controller      { return r.mode }
func (r *Router) Gate() *risk.Gate            { return r.gate }
func (r *Router) Ledger() *ledger.Ledger      { return r.ledger }
func (r *Router) Exchange() *exchange.Adapter { return r.exch }
func (r *Router) IsLive() bool                { return r.mode.IsLive() }

// Counters returns a copy of today's counters.
func (r *Router) Counters() risk.DailyCounters {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.counters
}

// SetCounters restores persisted counters.
func (r *Router) SetCounters(c risk.DailyCounters) {
	r.stateMu.Lock()
	r.counters = c
	r.stateMu.Unlock()
}

func (r *Router) now() time.Time { return r.Now().UTC() }

// PlaceOrder gates, prices, routes and books one order. A rejection returns a
// *risk.RejectionError or ErrNoPosition and leaves all state untouched.
func (r *Router) PlaceOrder(ctx context.Context, side, symbol string, amountUSD float64) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metrics != nil {
		timer := monitor.NewTimer(r.metrics.OrderLatency)
		defer timer.Stop()
	}

	side = strings.ToLower(strings.TrimSpace(side))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	req := risk.Request{Side: side, Symbol: symbol, AmountUSD: amountUSD}

	live := r.mode.IsLive()
	equity, err := r.equity(ctx, live)
	if err != nil {
		r.publishFailure(side, symbol, "equity", err)
		return nil, err
	}

	in := risk.Input{Equity: equity, Day: risk.DayOf(r.now()), CheckLoss: live || r.cfg.PaperLossCheck}
	r.stateMu.Lock()
	dec := r.gate.Evaluate(req, &r.counters, in)
	r.stateMu.Unlock()

	if dec.LossBreach {
		r.forcePaper(ctx, "daily loss limit")
		r.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Kind:    risk.ReasonDailyLossLimit,
			LossPct: dec.LossPct,
			Message: dec.Detail,
		})
	}
	if !dec.Allowed {
		r.publishRejection(req, dec.Reason, dec.Detail)
		return nil, dec.Err()
	}

	path := r.selectPath(live)
	held, hasPosition := r.ledger.Position(symbol)
	if side == "sell" && !hasPosition {
		r.log.Warn("no open position to sell", zap.String("symbol", symbol), zap.String("path", string(path)))
		r.publishRejection(req, "no_position", "")
		return nil, fmt.Errorf("sell %s: %w", symbol, ErrNoPosition)
	}

	price, err := r.resolvePrice(ctx, symbol, path)
	if err != nil {
		r.publishFailure(side, symbol, string(path), err)
		return nil, err
	}

	qty, amount := sizeOrder(side, dec.AdjustedSize, price, held)

	res := &Result{Path: path, Live: path != PathPaper, Decision: dec, Status: "filled"}
	trade := ledger.Trade{
		Time:      r.now(),
		Side:      side,
		Symbol:    symbol,
		AmountUSD: amount,
		Qty:       qty,
		Price:     price,
		Live:      res.Live,
		Path:      string(path),
	}

	switch path {
	case PathBackend:
		tr, err := r.backend.PlaceTrade(ctx, backend.TradeRequest{
			UserID:    r.userID,
			Exchange:  r.cfg.Venue,
			Side:      side,
			Symbol:    symbol,
			AmountUSD: amount,
		})
		if err != nil {
			r.publishFailure(side, symbol, string(path), err)
			return nil, fmt.Errorf("backend order: %w", err)
		}
		if tr.Price > 0 && tr.Price != trade.Price {
			trade.Price = tr.Price
			trade.Qty, _ = sizeOrder(side, amount, tr.Price, held)
		}
		trade.OrderID = tr.OrderID
		res.Status = tr.Status
	case PathExchange:
		or, err := r.exch.MarketOrder(ctx, symbol, sideOf(side), qty)
		if err != nil {
			r.publishFailure(side, symbol, string(path), err)
			return nil, fmt.Errorf("exchange order: %w", err)
		}
		if or.Price > 0 {
			trade.Price = or.Price
		}
		if or.ExecutedQty > 0 {
			trade.Qty = or.ExecutedQty
		}
		trade.OrderID = or.ExchangeOrderID
		res.Status = strings.ToLower(string(or.Status))
	}
	trade.Status = res.Status
	res.OrderID = trade.OrderID

	booked, err := r.ledger.Apply(trade)
	if err != nil {
		if !res.Live {
			return nil, err
		}
		res.Warning = r.diverged(trade, err).Error()
		booked = trade
	}
	res.Trade = booked

	r.stateMu.Lock()
	r.counters.Trades++
	r.stateMu.Unlock()

	r.bus.Publish(events.EventOrderFilled, fillOf(booked))
	r.log.Info("order filled",
		zap.String("side", side),
		zap.String("symbol", symbol),
		zap.Float64("amount_usd", booked.AmountUSD),
		zap.Float64("qty", booked.Qty),
		zap.Float64("price", booked.Price),
		zap.String("path", string(path)),
		zap.String("order_id", booked.OrderID))

	if r.saver != nil {
		if err := r.saver.Save(ctx); err != nil {
			if res.Live {
				res.Warning = r.diverged(booked, err).Error()
			} else {
				r.log.Warn("state save failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

// sizeOrder converts a notional into a quantity rounded to 8 decimals. A sell
// never exceeds the held quantity.
func sizeOrder(side string, amount, price float64, held ledger.Position) (qty, notional float64) {
	q, _ := decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(price)).Round(8).Float64()
	if side == "sell" && held.Qty > 0 && q > held.Qty {
		q = held.Qty
		amount = q * price
	}
	return q, amount
}

func sideOf(s string) common.Side {
	if s == "sell" {
		return common.SideSell
	}
	return common.SideBuy
}

func (r *Router) selectPath(live bool) Path {
	if !live {
		return PathPaper
	}
	if r.backend != nil && r.userID != "" && r.mode.BackendEnabled() {
		return PathBackend
	}
	if r.exch != nil && r.exch.Authenticated() {
		return PathExchange
	}
	return PathPaper
}

// resolvePrice asks the exchange first. The paper and backend paths fall back
// to the last seen price and then the configured default, so a fill is always
// booked with a positive price; the backend replaces it with the price the
// proxy reports when there is one. The exchange path has no fallback.
func (r *Router) resolvePrice(ctx context.Context, symbol string, path Path) (float64, error) {
	if r.exch != nil {
		p, err := r.exch.Ticker(ctx, symbol)
		if err == nil {
			r.ledger.Mark(symbol, p)
			return p, nil
		}
		r.log.Warn("ticker unavailable", zap.String("symbol", symbol), zap.Error(err))
		if path == PathExchange {
			return 0, fmt.Errorf("%w for %s: %v", ErrNoPrice, symbol, err)
		}
	}
	switch path {
	case PathPaper, PathBackend:
		if p, ok := r.ledger.LastPrice(symbol); ok {
			return p, nil
		}
		return r.cfg.PaperPrice, nil
	}
	return 0, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
}

// Equity returns the account value the gate would see right now.
func (r *Router) Equity(ctx context.Context) (float64, error) {
	return r.equity(ctx, r.mode.IsLive())
}

// PaperEquity is the simulated account value.
func (r *Router) PaperEquity() float64 {
	return r.ledger.PaperEquity(r.cfg.PaperEquity)
}

func (r *Router) equity(ctx context.Context, live bool) (float64, error) {
	if !live {
		return r.PaperEquity(), nil
	}
	var lastErr error
	if r.exch != nil && r.exch.Authenticated() {
		eq, err := r.exch.Equity(ctx)
		if err == nil {
			return eq, nil
		}
		r.log.Warn("exchange equity unavailable", zap.Error(err))
		lastErr = err
	}
	if r.backend != nil && r.userID != "" && r.mode.BackendEnabled() {
		bal, err := r.backend.Balance(ctx, r.userID)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrEquityUnavailable, err)
		}
		if v, ok := bal.TotalUSD(); ok {
			return v, nil
		}
		return 0, fmt.Errorf("%w: backend balance has no usd total", ErrEquityUnavailable)
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrEquityUnavailable, lastErr)
	}
	return 0, ErrEquityUnavailable
}

// EnableLive switches to live trading after the mode controller accepts the
// confirmation. Live equity must be readable, it becomes today's baseline.
func (r *Router) EnableLive(ctx context.Context, confirmation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode.BackendEnabled() && r.mode.Health() == mode.HealthUnknown {
		r.checkBackend(ctx, true)
	}
	from := r.mode.Mode()
	if err := r.mode.Enable(confirmation); err != nil {
		r.log.Warn("live enable refused", zap.Error(err))
		return err
	}
	eq, err := r.equity(ctx, true)
	if err != nil {
		r.mode.Disable("equity unavailable")
		r.log.Error("live enable aborted", zap.Error(err))
		return err
	}
	r.resetCounters(eq)
	r.publishMode(from, r.mode.Mode(), "enabled")
	r.log.Warn("live trading enabled", zap.Float64("baseline_equity", eq), zap.String("mode", string(r.mode.Mode())))
	return nil
}

// DisableLive returns to paper.
func (r *Router) DisableLive(ctx context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		reason = "disabled by operator"
	}
	from := r.mode.Mode()
	changed := r.mode.Disable(reason)
	r.resetCounters(r.PaperEquity())
	if changed {
		r.publishMode(from, r.mode.Mode(), reason)
	}
	r.log.Info("live trading disabled", zap.String("reason", reason))
}

// CheckBackend checks proxy health, bypassing any health cache. A failure
// while live on backend routing drops to paper.
func (r *Router) CheckBackend(ctx context.Context) backend.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkBackend(ctx, true)
}

// BackendStatus is CheckBackend for status reports: a cached result may be
// returned. Fresh checks refresh the cache, so it is never older than the
// last safety check.
func (r *Router) BackendStatus(ctx context.Context) backend.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkBackend(ctx, false)
}

func (r *Router) checkBackend(ctx context.Context, fresh bool) backend.HealthStatus {
	if r.backend == nil {
		return backend.HealthStatus{Message: "backend not configured", Checked: r.now()}
	}
	var st backend.HealthStatus
	if p, ok := r.backend.(LiveChecker); ok && fresh {
		st = p.CheckNow(ctx)
	} else {
		st = r.backend.Health(ctx)
	}
	from := r.mode.Mode()
	forced := r.mode.RecordHealth(st.OK)
	r.bus.Publish(events.EventBackendHealth, events.BackendHealth{OK: st.OK, Message: st.Message})
	if !st.OK {
		r.log.Warn("backend unhealthy", zap.String("message", st.Message))
	}
	if forced {
		r.resetCounters(r.PaperEquity())
		r.bus.Publish(events.EventModeChange, events.ModeChange{
			From: string(from), To: string(mode.Paper), Reason: "backend health check failed", Forced: true,
		})
		r.bus.Publish(events.EventRiskAlert, events.RiskAlert{Kind: events.AlertBackendUnhealthy, Message: st.Message})
	}
	return st
}

func (r *Router) forcePaper(ctx context.Context, reason string) {
	from := r.mode.Mode()
	changed := r.mode.Disable(reason)
	r.resetCounters(r.PaperEquity())
	if changed {
		r.bus.Publish(events.EventModeChange, events.ModeChange{
			From: string(from), To: string(r.mode.Mode()), Reason: reason, Forced: true,
		})
	}
	r.log.Error("forced paper mode", zap.String("reason", reason))
}

func (r *Router) resetCounters(equity float64) {
	r.stateMu.Lock()
	r.counters.Reset(risk.DayOf(r.now()), equity)
	r.stateMu.Unlock()
}

func (r *Router) diverged(t ledger.Trade, cause error) error {
	err := fmt.Errorf("%w: %v", ErrStateDivergence, cause)
	r.log.Error("remote order succeeded but local state failed",
		zap.String("order_id", t.OrderID),
		zap.String("side", t.Side),
		zap.String("symbol", t.Symbol),
		zap.Float64("amount_usd", t.AmountUSD),
		zap.Float64("qty", t.Qty),
		zap.Float64("price", t.Price),
		zap.String("path", t.Path),
		zap.Time("time", t.Time),
		zap.Error(cause))
	r.bus.Publish(events.EventStateDiverged, events.Divergence{Fill: fillOf(t), Error: cause.Error()})
	return err
}

func (r *Router) publishMode(from, to mode.Mode, reason string) {
	r.bus.Publish(events.EventModeChange, events.ModeChange{From: string(from), To: string(to), Reason: reason})
}

func (r *Router) publishRejection(req risk.Request, reason, detail string) {
	r.bus.Publish(events.EventOrderRejected, events.Rejection{
		Side: req.Side, Symbol: req.Symbol, AmountUSD: req.AmountUSD, Reason: reason, Detail: detail,
	})
}

func (r *Router) publishFailure(side, symbol, path string, err error) {
	r.log.Error("order failed", zap.String("side", side), zap.String("symbol", symbol), zap.String("path", path), zap.Error(err))
	r.bus.Publish(events.EventOrderFailed, events.Failure{Side: side, Symbol: symbol, Path: path, Error: err.Error()})
}

func fillOf(t ledger.Trade) events.Fill {
	return events.Fill{
		TradeID:   t.ID,
		Side:      t.Side,
		Symbol:    t.Symbol,
		AmountUSD: t.AmountUSD,
		Qty:       t.Qty,
		Price:     t.Price,
		Live:      t.Live,
		Path:      t.Path,
		OrderID:   t.OrderID,
	}
}
