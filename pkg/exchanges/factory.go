// Package exchanges opens an exchange session by venue name.
package exchanges

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/binance/spot"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

// ErrPaperVenue is returned for the "paper" venue, which has no session.
var ErrPaperVenue = errors.New("paper venue has no exchange session")

// Options configure Open.
type Options struct {
	Venue     string
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string
}

// Open returns a session for the venue. Without credentials the session is
// read-only (tickers and bars only).
func Open(opts Options, logger *zap.Logger) (common.Session, error) {
	venue := strings.ToLower(strings.TrimSpace(opts.Venue))
	switch venue {
	case "", "paper":
		return nil, ErrPaperVenue
	case "binance", "binanceus", "binance.us", "binance_us":
		return spot.New(spot.Config{
			Venue:     venue,
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			Testnet:   opts.Testnet,
			BaseURL:   opts.BaseURL,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", opts.Venue)
	}
}
