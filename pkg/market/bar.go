// Package market holds the bar type shared by strategies, the bot loop and the
// backtester, plus bar sources that do not need an exchange.
package market

import (
	"context"
	"errors"
	"time"
)

// Bar is one OHLCV sample for a fixed interval.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Source yields an ordered bar sequence, oldest first.
type Source interface {
	FetchBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error)
}

// ErrNoBars is returned when a source has nothing for the request.
var ErrNoBars = errors.New("no bars available")

// Closes extracts the close column.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// IntervalMinutes maps an interval code to minutes per bar. Unknown codes map
// to 60 (hourly), matching what the backtester annualises with.
func IntervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "1h":
		return 60
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 60
	}
}

// IntervalDuration is IntervalMinutes as a time.Duration.
func IntervalDuration(interval string) time.Duration {
	return time.Duration(IntervalMinutes(interval)) * time.Minute
}
