package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalinkpact/cryptopiggy/internal/exchange"
	"github.com/digitalinkpact/cryptopiggy/internal/exchange/exchangetest"
	"github.com/digitalinkpact/cryptopiggy/pkg/cache"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newAdapter(s common.Session, rec *recordingSleeper) *exchange.Adapter {
	return exchange.NewAdapter(s, nil,
		exchange.WithPolicy(exchange.Policy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}),
		exchange.WithSleeper(rec.Sleep))
}

func TestTransientFailuresRecoverAfterTwoDelays(t *testing.T) {
	s := exchangetest.New(map[string]float64{"BTC/USDT": 60000})
	s.FailNext("fetch_ticker", exchangetest.Transient("fetch_ticker"), exchangetest.Transient("fetch_ticker"))
	rec := &recordingSleeper{}

	price, err := newAdapter(s, rec).Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, price)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, rec.delays)
	assert.Equal(t, 3, s.CallCount("fetch_ticker"))
}

func TestAuthErrorFailsImmediately(t *testing.T) {
	s := exchangetest.New(nil)
	s.FailNext("fetch_balance", exchangetest.Auth("fetch_balance"))
	rec := &recordingSleeper{}

	_, err := newAdapter(s, rec).Balance(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.delays)
	assert.Equal(t, 1, s.CallCount("fetch_balance"))
	assert.ErrorIs(t, err, exchange.ErrUnavailable)
	assert.True(t, common.IsAuth(err))

	var f *exchange.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, common.ClassAuth, f.Class)
	assert.Equal(t, 1, f.Attempts)
}

func TestRateLimitDoublesBackoff(t *testing.T) {
	s := exchangetest.New(map[string]float64{"BTC/USDT": 1})
	s.FailNext("fetch_ticker", exchangetest.RateLimited("fetch_ticker"))
	rec := &recordingSleeper{}

	_, err := newAdapter(s, rec).Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestExhaustedRetriesAreUnavailable(t *testing.T) {
	s := exchangetest.New(nil)
	s.FailNext("create_order",
		exchangetest.Transient("create_order"),
		exchangetest.Transient("create_order"),
		exchangetest.Transient("create_order"))
	rec := &recordingSleeper{}

	_, err := newAdapter(s, rec).MarketOrder(context.Background(), "BTC/USDT", common.SideBuy, 0.001)
	require.ErrorIs(t, err, exchange.ErrUnavailable)
	assert.Len(t, rec.delays, 2)
	assert.Empty(t, s.Orders)
}

func TestMarketOrderRetriesKeepClientID(t *testing.T) {
	s := exchangetest.New(map[string]float64{"BTC/USDT": 60000})
	s.FailNext("create_order", exchangetest.Transient("create_order"), exchangetest.Transient("create_order"))
	rec := &recordingSleeper{}

	res, err := newAdapter(s, rec).MarketOrder(context.Background(), "BTC/USDT", common.SideBuy, 0.001)
	require.NoError(t, err)
	require.Len(t, s.ClientIDs, 3)
	assert.Len(t, s.ClientIDs[0], 32)
	assert.Equal(t, s.ClientIDs[0], s.ClientIDs[1])
	assert.Equal(t, s.ClientIDs[0], s.ClientIDs[2])
	require.Len(t, s.Orders, 1)
	assert.Equal(t, s.ClientIDs[0], res.ClientID)

	_, err = newAdapter(s, rec).MarketOrder(context.Background(), "BTC/USDT", common.SideBuy, 0.001)
	require.NoError(t, err)
	assert.NotEqual(t, s.ClientIDs[0], s.ClientIDs[3], "each order gets its own id")
}

func TestUnknownErrorIsNotRetried(t *testing.T) {
	s := exchangetest.New(nil)
	s.FailNext("fetch_ohlcv", errors.New("malformed payload"))
	rec := &recordingSleeper{}

	_, err := newAdapter(s, rec).Bars(context.Background(), "BTC/USDT", "1h", 10)
	require.Error(t, err)
	assert.Empty(t, rec.delays)
}

func TestCancelledSleepStopsRetrying(t *testing.T) {
	s := exchangetest.New(nil)
	s.FailNext("fetch_ticker", exchangetest.Transient("fetch_ticker"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := exchange.NewAdapter(s, nil)
	_, err := a.Ticker(ctx, "BTC/USDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.CallCount("fetch_ticker"))
}

func TestDelay(t *testing.T) {
	base := 500 * time.Millisecond
	tests := []struct {
		class   common.ErrorClass
		attempt int
		want    time.Duration
		retry   bool
	}{
		{common.ClassTransient, 1, 500 * time.Millisecond, true},
		{common.ClassTransient, 2, time.Second, true},
		{common.ClassRateLimit, 2, 2 * time.Second, true},
		{common.ClassAuth, 1, 0, false},
		{common.ClassUnknown, 1, 0, false},
	}
	for _, tt := range tests {
		got, retry := exchange.Delay(tt.class, base, tt.attempt)
		assert.Equal(t, tt.want, got, "%s attempt %d", tt.class, tt.attempt)
		assert.Equal(t, tt.retry, retry)
	}
}

func TestEquityValuesAssets(t *testing.T) {
	s := exchangetest.New(map[string]float64{"BTC/USDT": 50000})
	s.Balances = map[string]float64{"USDT": 100, "BTC": 0.01, "DOGE": 10}
	eq, err := newAdapter(s, &recordingSleeper{}).Equity(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 600.0, eq, 1e-9)
}

func TestNilSessionGivesNilAdapter(t *testing.T) {
	assert.Nil(t, exchange.NewAdapter(nil, nil))
}

func TestTickerServedFromPriceCache(t *testing.T) {
	s := exchangetest.New(map[string]float64{"BTC/USDT": 50000})
	prices := cache.NewPrices(time.Minute)
	a := exchange.NewAdapter(s, nil, exchange.WithPriceCache(prices))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := a.Ticker(ctx, "BTC/USDT")
		require.NoError(t, err)
		assert.Equal(t, 50000.0, p)
	}
	assert.Equal(t, 1, s.CallCount("fetch_ticker"))

	_, err := a.MarketOrder(ctx, "BTC/USDT", common.SideBuy, 0.001)
	require.NoError(t, err)
	_, err = a.Ticker(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 2, s.CallCount("fetch_ticker"))
}
