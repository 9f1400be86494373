package common

import (
	"context"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// Session is a connection to one exchange venue. Symbols use the canonical
// slash form ("BTC/USDT"). A session built without credentials is read-only:
// signed calls fail with a ClassAuth error.
type Session interface {
	Name() string
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
	FetchBalance(ctx context.Context) (Balance, error)
	// CreateMarketOrder places a market order tagged with clientID. Retries
	// of one logical order pass the same clientID.
	CreateMarketOrder(ctx context.Context, symbol string, side Side, qty float64, clientID string) (OrderResult, error)
	// Authenticated reports whether signed endpoints can be called.
	Authenticated() bool
}
