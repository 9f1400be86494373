// Package exchange wraps an exchange session with bounded retry and error
// classification. Callers get either a value or a *Failure; an exhausted or
// refused call is "unavailable", never a zero value.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/pkg/cache"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// ErrUnavailable matches every *Failure.
var ErrUnavailable = errors.New("exchange unavailable")

// Failure is the terminal result of a call that did not succeed.
type Failure struct {
	Op       string
	Class    common.ErrorClass
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", f.Op, f.Attempts, f.Class, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is makes errors.Is(err, ErrUnavailable) true for any failure.
func (f *Failure) Is(target error) bool { return target == ErrUnavailable }

// Sleeper waits d or returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Adapter retries calls against a session.
type Adapter struct {
	session common.Session
	policy  Policy
	sleep   Sleeper
	observe func(op string, d time.Duration)
	prices  *cache.Prices
	log     *zap.Logger
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithPolicy overrides the retry policy.
func WithPolicy(p Policy) Option { return func(a *Adapter) { a.policy = p } }

// WithSleeper overrides how backoff delays are waited out.
func WithSleeper(s Sleeper) Option { return func(a *Adapter) { a.sleep = s } }

// WithObserver reports the duration of every attempt.
func WithObserver(fn func(op string, d time.Duration)) Option {
	return func(a *Adapter) { a.observe = fn }
}

// WithPriceCache serves Ticker from c while its entries are fresh.
func WithPriceCache(c *cache.Prices) Option { return func(a *Adapter) { a.prices = c } }

// NewAdapter wraps session. A nil session yields a nil adapter.
func NewAdapter(session common.Session, logger *zap.Logger, opts ...Option) *Adapter {
	if session == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		session: session,
		policy:  DefaultPolicy(),
		sleep:   SleepContext,
		log:     logger.Named("exchange"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.policy.MaxAttempts < 1 {
		a.policy.MaxAttempts = 1
	}
	return a
}

// Session exposes the wrapped session.
func (a *Adapter) Session() common.Session { return a.session }

// Name is the venue name.
func (a *Adapter) Name() string { return a.session.Name() }

// Authenticated reports whether orders and balances can be requested.
func (a *Adapter) Authenticated() bool { return a.session.Authenticated() }

// Call runs fn under the adapter's retry policy.
func Call[T any](ctx context.Context, a *Adapter, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var lastClass common.ErrorClass

	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		start := time.Now()
		v, err := fn(ctx)
		if a.observe != nil {
			a.observe(op, time.Since(start))
		}
		if err == nil {
			return v, nil
		}
		lastErr = err
		lastClass = common.Classify(err)

		delay, retry := Delay(lastClass, a.policy.Backoff, attempt)
		fields := []zap.Field{
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.policy.MaxAttempts),
			zap.String("class", lastClass.String()),
			zap.Error(err),
		}
		switch lastClass {
		case common.ClassAuth:
			a.log.Error("authentication error", fields...)
		case common.ClassUnknown:
			a.log.Error("uncaught exchange error", fields...)
		default:
			a.log.Warn("retryable exchange error", append(fields, zap.Duration("backoff", delay))...)
		}
		if !retry {
			return zero, &Failure{Op: op, Class: lastClass, Attempts: attempt, Err: err}
		}
		if attempt == a.policy.MaxAttempts {
			break
		}
		if serr := a.sleep(ctx, delay); serr != nil {
			return zero, &Failure{Op: op, Class: lastClass, Attempts: attempt, Err: serr}
		}
	}

	a.log.Error("exceeded retries", zap.String("op", op), zap.Int("attempts", a.policy.MaxAttempts))
	return zero, &Failure{Op: op, Class: lastClass, Attempts: a.policy.MaxAttempts, Err: lastErr}
}

// Ticker returns the last price for symbol.
func (a *Adapter) Ticker(ctx context.Context, symbol string) (float64, error) {
	if p, ok := a.prices.Fresh(symbol); ok {
		return p, nil
	}
	tk, err := Call(ctx, a, "fetch_ticker", func(ctx context.Context) (common.Ticker, error) {
		return a.session.FetchTicker(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	if tk.Last <= 0 {
		return 0, &Failure{Op: "fetch_ticker", Class: common.ClassUnknown, Attempts: 1, Err: fmt.Errorf("non-positive price for %s", symbol)}
	}
	a.prices.Set(symbol, tk.Last)
	return tk.Last, nil
}

// Bars fetches OHLCV bars.
func (a *Adapter) Bars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	return Call(ctx, a, "fetch_ohlcv", func(ctx context.Context) ([]market.Bar, error) {
		return a.session.FetchOHLCV(ctx, symbol, interval, limit)
	})
}

// FetchBars lets the adapter serve as a market.Source.
func (a *Adapter) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	return a.Bars(ctx, symbol, interval, limit)
}

// Balance fetches per-asset totals.
func (a *Adapter) Balance(ctx context.Context) (common.Balance, error) {
	return Call(ctx, a, "fetch_balance", func(ctx context.Context) (common.Balance, error) {
		return a.session.FetchBalance(ctx)
	})
}

// MarketOrder submits a market order. Every retry resends the same client
// order id so a request that reached the venue before timing out is not
// filled twice. The cached price of symbol is dropped either way.
func (a *Adapter) MarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	defer a.prices.Invalidate(symbol)
	clientID := common.NewClientOrderID()
	return Call(ctx, a, "create_order", func(ctx context.Context) (common.OrderResult, error) {
		return a.session.CreateMarketOrder(ctx, symbol, side, qty, clientID)
	})
}
