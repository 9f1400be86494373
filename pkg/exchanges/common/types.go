package common

import (
	"strings"

	"github.com/google/uuid"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Ticker is the last traded price for a symbol.
type Ticker struct {
	Symbol string
	Last   float64
}

// Balance holds per-asset totals (free + locked).
type Balance struct {
	Total map[string]float64
}

// OrderResult is the exchange acknowledgement of a market order.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	Price           float64 // average fill price when known
	ExecutedQty     float64
	QuoteQty        float64
}

// SplitSymbol splits "BTC/USDT" into base and quote.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, ""
	}
	return parts[0], parts[1]
}

// VenueSymbol turns the canonical "BTC/USDT" form into "BTCUSDT".
func VenueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// NewClientOrderID returns a 32 character id for newClientOrderId, inside
// Binance's 36 character limit.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
