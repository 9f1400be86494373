package spot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

// FetchBalance returns free+locked totals per asset, skipping zero rows.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	body, err := c.doSigned(ctx, "fetch_balance", http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return common.Balance{}, err
	}
	var info struct {
		CanTrade bool `json:"canTrade"`
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return common.Balance{}, decodeErr("account", err)
	}

	out := common.Balance{Total: make(map[string]float64)}
	for _, b := range info.Balances {
		total := parseDecimal(b.Free).Add(parseDecimal(b.Locked))
		if total.IsZero() {
			continue
		}
		f, _ := total.Float64()
		out.Total[b.Asset] = f
	}
	return out, nil
}

// CreateMarketOrder submits a MARKET order for qty base units. Quantity is
// truncated to the symbol's LOT_SIZE step when the step can be looked up.
// clientID becomes newClientOrderId, which Binance refuses to reuse while the
// first order is open and echoes back so a resend can be matched to it. An
// empty clientID gets a fresh one.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, clientID string) (common.OrderResult, error) {
	if err := c.requireAuth("create_order"); err != nil {
		return common.OrderResult{}, err
	}
	venueSymbol := common.VenueSymbol(symbol)

	q := decimal.NewFromFloat(qty)
	if step, err := c.lotStep(ctx, venueSymbol); err != nil {
		c.log.Warn("lot size lookup failed, sending raw quantity", zap.String("symbol", venueSymbol), zap.Error(err))
		q = q.Truncate(8)
	} else if step.IsPositive() {
		q = q.Div(step).Floor().Mul(step)
	}
	if !q.IsPositive() {
		return common.OrderResult{}, &common.Error{Class: common.ClassUnknown, Op: "create_order", Msg: "quantity rounds to zero"}
	}

	if clientID == "" {
		clientID = common.NewClientOrderID()
	}
	params := url.Values{}
	params.Set("symbol", venueSymbol)
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", q.String())
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "FULL")

	body, err := c.doSigned(ctx, "create_order", http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, decodeErr("order", err)
	}

	executed := parseDecimal(resp.ExecutedQty)
	quote := parseDecimal(resp.CummulativeQuoteQty)
	res := common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        resp.ClientOrderID,
		Status:          mapStatus(resp.Status),
	}
	res.ExecutedQty, _ = executed.Float64()
	res.QuoteQty, _ = quote.Float64()
	if executed.IsPositive() {
		res.Price, _ = quote.Div(executed).Float64()
	}
	return res, nil
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
