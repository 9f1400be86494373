package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange/exchangetest"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
)

type fakeBackend struct {
	healthy  bool
	balance  backend.Balance
	tradeErr error
	result   backend.TradeResult
	trades   []backend.TradeRequest
}

func (f *fakeBackend) Health(ctx context.Context) backend.HealthStatus {
	if f.healthy {
		return backend.HealthStatus{OK: true, Message: "ok"}
	}
	return backend.HealthStatus{Message: "http_503: empty_response"}
}

func (f *fakeBackend) Balance(ctx context.Context, userID string) (backend.Balance, error) {
	if f.balance == nil {
		return nil, errors.New("balance: http_500")
	}
	return f.balance, nil
}

func (f *fakeBackend) PlaceTrade(ctx context.Context, req backend.TradeRequest) (*backend.TradeResult, error) {
	f.trades = append(f.trades, req)
	if f.tradeErr != nil {
		return nil, f.tradeErr
	}
	res := f.result
	return &res, nil
}

var day1 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRouter(t *testing.T, opts mode.Options) (*Router, *events.Bus) {
	t.Helper()
	mc := mode.New(opts)
	gate := risk.NewGate(risk.DefaultSettings(), []string{"BTC/USDT"}, nil)
	r := NewRouter(Config{Venue: "binanceus"}, mc, gate, ledger.New(), nil)
	r.Now = func() time.Time { return day1 }
	bus := events.NewBus()
	r.SetBus(bus)
	return r, bus
}

func liveExchange(t *testing.T, usdt float64) (*Router, *exchangetest.Session, *events.Bus) {
	t.Helper()
	r, bus := newRouter(t, mode.Options{AllowLive: true})
	fake := exchangetest.New(map[string]float64{"BTC/USDT": 50000})
	fake.Balances = map[string]float64{"USDT": usdt}
	r.SetExchange(exchange.NewAdapter(fake, nil, exchange.WithSleeper(func(context.Context, time.Duration) error { return nil })))
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))
	require.True(t, r.IsLive())
	return r, fake, bus
}

func TestPaperOrderIsCappedToHardMax(t *testing.T) {
	r, bus := newRouter(t, mode.Options{})
	fills, unsub := bus.Subscribe(4, events.EventOrderFilled)
	defer unsub()

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, PathPaper, res.Path)
	assert.False(t, res.Live)
	assert.Equal(t, risk.MaxTradeUSD, res.Trade.AmountUSD)
	assert.Equal(t, 50000.0, res.Trade.Price)
	assert.InDelta(t, 0.001, res.Trade.Qty, 1e-12)

	pos, ok := r.Ledger().Position("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.001, pos.Qty, 1e-12)
	assert.Equal(t, 1, r.Counters().Trades)
	assert.Len(t, fills, 1)
}

func TestRejectionsLeaveLedgerUntouched(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		amount float64
		reason string
	}{
		{"below minimum", "BTC/USDT", 0.5, risk.ReasonBelowMinimum},
		{"not whitelisted", "ETH/USDT", 25, risk.ReasonSymbolNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, bus := newRouter(t, mode.Options{})
			rejected, unsub := bus.Subscribe(4, events.EventOrderRejected)
			defer unsub()

			res, err := r.PlaceOrder(context.Background(), "buy", tt.symbol, tt.amount)
			assert.Nil(t, res)
			var rej *risk.RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Empty(t, r.Ledger().Positions())
			assert.Empty(t, r.Ledger().Trades())
			assert.Equal(t, 0, r.Counters().Trades)
			assert.Len(t, rejected, 1)
		})
	}
}

func TestPaperSellWithoutPosition(t *testing.T) {
	r, _ := newRouter(t, mode.Options{})
	res, err := r.PlaceOrder(context.Background(), "sell", "BTC/USDT", 25)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Empty(t, r.Ledger().Positions())
	assert.Empty(t, r.Ledger().Trades())
}

func TestPaperRoundTrip(t *testing.T) {
	r, _ := newRouter(t, mode.Options{})
	ctx := context.Background()
	_, err := r.PlaceOrder(ctx, "buy", "BTC/USDT", 20)
	require.NoError(t, err)
	res, err := r.PlaceOrder(ctx, "sell", "BTC/USDT", 50)
	require.NoError(t, err)
	assert.InDelta(t, 20, res.Trade.AmountUSD, 1e-9)
	assert.Empty(t, r.Ledger().Positions())
}

func TestLiveExchangePath(t *testing.T) {
	r, fake, _ := liveExchange(t, 10000)

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, PathExchange, res.Path)
	assert.True(t, res.Live)
	assert.Equal(t, "filled", res.Status)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 50.0, res.Trade.AmountUSD)
	require.Len(t, fake.Orders, 1)
	assert.InDelta(t, 0.001, fake.Orders[0].Qty, 1e-12)
	assert.Equal(t, 1, r.Counters().Trades)
}

func TestLiveExchangeFailureMutatesNothing(t *testing.T) {
	r, fake, _ := liveExchange(t, 10000)
	fake.FailNext("create_order", exchangetest.Auth("create_order"))

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	assert.Nil(t, res)
	require.ErrorIs(t, err, exchange.ErrUnavailable)
	assert.Empty(t, r.Ledger().Trades())
	assert.Equal(t, 0, r.Counters().Trades)
}

func TestLiveBackendPath(t *testing.T) {
	r, _ := newRouter(t, mode.Options{AllowLive: true})
	fb := &fakeBackend{
		healthy: true,
		balance: backend.Balance{"totalUsd": 10000.0},
		result:  backend.TradeResult{OrderID: "b-1", Price: 62500, Status: "submitted"},
	}
	r.SetBackend(fb, "u1", true)
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	require.NoError(t, err)
	assert.Equal(t, PathBackend, res.Path)
	assert.Equal(t, "b-1", res.OrderID)
	assert.Equal(t, "submitted", res.Status)
	assert.Equal(t, 62500.0, res.Trade.Price)
	assert.InDelta(t, 0.0004, res.Trade.Qty, 1e-12)

	require.Len(t, fb.trades, 1)
	assert.Equal(t, "u1", fb.trades[0].UserID)
	assert.Equal(t, "binanceus", fb.trades[0].Exchange)
	assert.Equal(t, "BTC/USDT", fb.trades[0].Symbol)
	assert.Equal(t, 25.0, fb.trades[0].AmountUSD)
}

func liveBackend(t *testing.T, fb *fakeBackend) *Router {
	t.Helper()
	r, _ := newRouter(t, mode.Options{AllowLive: true})
	fb.healthy = true
	fb.balance = backend.Balance{"totalUsd": 10000.0}
	r.SetBackend(fb, "u1", true)
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))
	require.Nil(t, r.Exchange())
	return r
}

func TestLiveBackendReplyWithoutPriceIsBooked(t *testing.T) {
	fb := &fakeBackend{result: backend.TradeResult{OrderID: "b-9", Status: "submitted"}}
	r := liveBackend(t, fb)

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, PathBackend, res.Path)
	assert.Equal(t, 50000.0, res.Trade.Price)
	assert.InDelta(t, 0.0005, res.Trade.Qty, 1e-12)

	require.Len(t, r.Ledger().Trades(), 1)
	pos, ok := r.Ledger().Position("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.0005, pos.Qty, 1e-12)
	assert.Equal(t, 1, r.Counters().Trades)
}

func TestLiveBackendSellIsCappedToHolding(t *testing.T) {
	fb := &fakeBackend{result: backend.TradeResult{OrderID: "b-1", Status: "filled"}}
	r := liveBackend(t, fb)
	ctx := context.Background()

	_, err := r.PlaceOrder(ctx, "buy", "BTC/USDT", 25)
	require.NoError(t, err)

	res, err := r.PlaceOrder(ctx, "sell", "BTC/USDT", 50)
	require.NoError(t, err)
	require.Len(t, fb.trades, 2)
	assert.Equal(t, "sell", fb.trades[1].Side)
	assert.InDelta(t, 25.0, fb.trades[1].AmountUSD, 1e-9)
	assert.InDelta(t, 0.0005, res.Trade.Qty, 1e-12)

	_, ok := r.Ledger().Position("BTC/USDT")
	assert.False(t, ok)
	assert.Len(t, r.Ledger().Trades(), 2)
	assert.Equal(t, 2, r.Counters().Trades)
}

func TestLiveBackendSellWithoutPositionSendsNothing(t *testing.T) {
	fb := &fakeBackend{result: backend.TradeResult{OrderID: "b-1"}}
	r := liveBackend(t, fb)

	_, err := r.PlaceOrder(context.Background(), "sell", "BTC/USDT", 25)
	require.ErrorIs(t, err, ErrNoPosition)
	assert.Empty(t, fb.trades)
	assert.Equal(t, 0, r.Counters().Trades)
}

func TestLiveBackendFailure(t *testing.T) {
	r, _ := newRouter(t, mode.Options{AllowLive: true})
	fb := &fakeBackend{healthy: true, balance: backend.Balance{"totalUsd": 10000.0}, tradeErr: errors.New("backend_trade_failed_502: bad gateway")}
	r.SetBackend(fb, "u1", true)
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))

	_, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	require.Error(t, err)
	assert.Empty(t, r.Ledger().Trades())
	assert.Equal(t, 0, r.Counters().Trades)
}

func TestBackendCheckFailureForcesPaper(t *testing.T) {
	r, bus := newRouter(t, mode.Options{AllowLive: true})
	modes, unsub := bus.Subscribe(4, events.EventModeChange)
	defer unsub()
	fb := &fakeBackend{healthy: true, balance: backend.Balance{"totalUsd": 10000.0}}
	r.SetBackend(fb, "u1", true)
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))
	<-modes

	fb.healthy = false
	st := r.CheckBackend(context.Background())
	assert.False(t, st.OK)
	assert.False(t, r.IsLive())
	env := <-modes
	assert.Equal(t, "paper", env.Payload.(events.ModeChange).To)
}

// cachingBackend answers Health from a stale "ok" and CheckNow from the proxy.
type cachingBackend struct {
	*fakeBackend
	fresh int
}

func (c *cachingBackend) Health(ctx context.Context) backend.HealthStatus {
	return backend.HealthStatus{OK: true, Message: "cached"}
}

func (c *cachingBackend) CheckNow(ctx context.Context) backend.HealthStatus {
	c.fresh++
	return c.fakeBackend.Health(ctx)
}

func TestCheckBackendBypassesHealthCache(t *testing.T) {
	r, _ := newRouter(t, mode.Options{AllowLive: true})
	cb := &cachingBackend{fakeBackend: &fakeBackend{healthy: true, balance: backend.Balance{"totalUsd": 10000.0}}}
	r.SetBackend(cb, "u1", true)
	require.NoError(t, r.EnableLive(context.Background(), mode.ConfirmPhrase))
	require.True(t, r.IsLive())

	cb.healthy = false
	assert.True(t, r.BackendStatus(context.Background()).OK)
	assert.True(t, r.IsLive())

	st := r.CheckBackend(context.Background())
	assert.False(t, st.OK)
	assert.False(t, r.IsLive())
	assert.Equal(t, 2, cb.fresh)
}

func TestDailyLossBreachForcesPaper(t *testing.T) {
	r, fake, bus := liveExchange(t, 10000)
	alerts, unsub := bus.Subscribe(4, events.EventRiskAlert)
	defer unsub()

	fake.Balances = map[string]float64{"USDT": 9000}
	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	assert.Nil(t, res)
	var rej *risk.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, risk.ReasonDailyLossLimit, rej.Reason)
	assert.False(t, r.IsLive())
	assert.Empty(t, fake.Orders)
	require.Len(t, alerts, 1)
}

func TestDailyCountersRollOverOnce(t *testing.T) {
	r, _ := newRouter(t, mode.Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.PlaceOrder(ctx, "buy", "BTC/USDT", 5)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.Counters().Trades)

	r.Now = func() time.Time { return day1.Add(24 * time.Hour) }
	_, err := r.PlaceOrder(ctx, "buy", "BTC/USDT", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Counters().Trades)
	assert.Equal(t, risk.DayOf(day1.Add(24*time.Hour)), r.Counters().ResetDay)

	_, err = r.PlaceOrder(ctx, "buy", "BTC/USDT", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Counters().Trades)
}

func TestSaveFailureAfterLiveOrderIsSurfaced(t *testing.T) {
	r, _, bus := liveExchange(t, 10000)
	diverged, unsub := bus.Subscribe(4, events.EventStateDiverged)
	defer unsub()
	r.SetSaver(StateSaverFunc(func(context.Context) error { return errors.New("disk full") }))

	res, err := r.PlaceOrder(context.Background(), "buy", "BTC/USDT", 25)
	require.NoError(t, err)
	assert.Contains(t, res.Warning, ErrStateDivergence.Error())
	assert.Len(t, r.Ledger().Trades(), 1)
	assert.Len(t, diverged, 1)
}

func TestEnableLiveNeedsConfirmation(t *testing.T) {
	r, _ := newRouter(t, mode.Options{AllowLive: true})
	fake := exchangetest.New(map[string]float64{"BTC/USDT": 50000})
	r.SetExchange(exchange.NewAdapter(fake, nil))
	assert.ErrorIs(t, r.EnableLive(context.Background(), "ok"), mode.ErrConfirmationMismatch)
	assert.False(t, r.IsLive())
}
