package spot

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// FetchTicker returns the last price for symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(symbol))
	body, err := c.doPublic(ctx, "fetch_ticker", "/api/v3/ticker/price", params)
	if err != nil {
		return common.Ticker{}, err
	}
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Ticker{}, decodeErr("ticker", err)
	}
	last, _ := parseDecimal(resp.Price).Float64()
	return common.Ticker{Symbol: symbol, Last: last}, nil
}

// FetchOHLCV returns up to limit klines, oldest first.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "fetch_ohlcv", "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeErr("klines", err)
	}
	bars := make([]market.Bar, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 6 {
			continue
		}
		bars = append(bars, market.Bar{
			Time:   time.UnixMilli(toInt64(item[0])).UTC(),
			Open:   toFloat(item[1]),
			High:   toFloat(item[2]),
			Low:    toFloat(item[3]),
			Close:  toFloat(item[4]),
			Volume: toFloat(item[5]),
		})
	}
	return bars, nil
}

// FetchBars adapts FetchOHLCV to market.Source.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	return c.FetchOHLCV(ctx, symbol, interval, limit)
}

// lotStep returns the LOT_SIZE step for a venue symbol, caching the lookup.
func (c *Client) lotStep(ctx context.Context, venueSymbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	step, ok := c.steps[venueSymbol]
	c.mu.RUnlock()
	if ok {
		return step, nil
	}

	params := url.Values{}
	params.Set("symbol", venueSymbol)
	body, err := c.doPublic(ctx, "exchange_info", "/api/v3/exchangeInfo", params)
	if err != nil {
		return decimal.Zero, err
	}
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return decimal.Zero, decodeErr("exchange info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != venueSymbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				step = parseDecimal(f.StepSize)
			}
		}
	}
	c.mu.Lock()
	c.steps[venueSymbol] = step
	c.mu.Unlock()
	return step, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}
