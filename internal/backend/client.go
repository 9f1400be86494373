// Package backend talks to the trading proxy that holds exchange credentials
// and executes orders on the bot's behalf.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout     = errors.New("backend timeout")
	ErrUnreachable = errors.New("backend unreachable")
	ErrNoBaseURL   = errors.New("backend url not configured")
	ErrNoUserID    = errors.New("missing_user_id")
)

const DefaultTimeout = 5 * time.Second

// Client is a thin HTTP client for the proxy API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a client with a fixed per-request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.Named("backend"),
	}
}

// BaseURL returns the configured proxy URL.
func (c *Client) BaseURL() string { return c.baseURL }

// HealthStatus is the outcome of GET /api/health.
type HealthStatus struct {
	OK      bool      `json:"ok"`
	Message string    `json:"message"`
	Checked time.Time `json:"checked_at"`
}

// Health checks the proxy. Any non-200 or transport error is unhealthy.
func (c *Client) Health(ctx context.Context) HealthStatus {
	st := HealthStatus{Checked: time.Now().UTC()}
	if c.baseURL == "" {
		st.Message = ErrNoBaseURL.Error()
		return st
	}
	resp, body, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		st.Message = err.Error()
		return st
	}
	if resp.StatusCode == http.StatusOK {
		st.OK = true
		st.Message = "ok"
		return st
	}
	snippet := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	snippet = truncate(snippet, 200)
	if snippet == "" {
		snippet = "empty_response"
	}
	st.Message = fmt.Sprintf("http_%d: %s", resp.StatusCode, snippet)
	return st
}

// CredentialsRequest is the body of POST /api/credentials.
type CredentialsRequest struct {
	UserID    string `json:"userId"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

// SyncResult is the normalised reply of a credential sync. Fields holds the
// decoded JSON body when there was one.
type SyncResult struct {
	StatusCode  int
	ContentType string
	RawResponse string
	Error       string
	Fields      map[string]any
}

// Validated reports whether the proxy accepted the credentials.
func (r SyncResult) Validated() bool {
	if r.Error != "" && r.Fields == nil {
		return false
	}
	if truthy(r.Fields["ok"]) || truthy(r.Fields["canTrade"]) || truthy(r.Fields["validated"]) {
		return true
	}
	if s, _ := r.Fields["status"].(string); s == "ok" || s == "success" {
		return true
	}
	_, hasErr := r.Fields["error"]
	return r.StatusCode == http.StatusOK && !hasErr && r.Error == ""
}

// Message summarises the result for operators.
func (r SyncResult) Message() string {
	if r.Error != "" {
		return r.Error
	}
	if e, ok := r.Fields["error"].(string); ok && e != "" {
		return e
	}
	if m, ok := r.Fields["message"].(string); ok && m != "" {
		return m
	}
	return fmt.Sprintf("status %d", r.StatusCode)
}

// SyncCredentials posts credentials for validation. Failures come back in
// SyncResult.Error rather than as a Go error so the raw body survives.
func (c *Client) SyncCredentials(ctx context.Context, req CredentialsRequest) SyncResult {
	if c.baseURL == "" {
		return SyncResult{Error: ErrNoBaseURL.Error()}
	}
	if req.UserID == "" {
		return SyncResult{Error: ErrNoUserID.Error()}
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/api/credentials", req)
	if err != nil {
		return SyncResult{Error: err.Error()}
	}

	res := SyncResult{
		StatusCode:  resp.StatusCode,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
	}
	raw := string(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("credential sync failed",
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", res.ContentType),
			zap.String("body", truncate(raw, 500)))
		res.RawResponse = truncate(raw, 1000)
		res.Error = fmt.Sprintf("http_%d", resp.StatusCode)
		return res
	}
	if strings.TrimSpace(raw) == "" {
		res.Fields = map[string]any{"ok": true}
		return res
	}
	if !strings.Contains(res.ContentType, "application/json") {
		c.log.Error("credential sync returned non-json",
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", res.ContentType),
			zap.String("body", truncate(raw, 500)))
		res.RawResponse = truncate(raw, 1000)
		res.Error = "non_json_response"
		return res
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		c.log.Error("credential sync json parse failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		res.RawResponse = truncate(raw, 1000)
		res.Error = "invalid_json_response"
		return res
	}
	res.Fields = fields
	return res
}

// Balance is the proxy's balance snapshot.
type Balance map[string]any

// TotalUSD extracts the account value from a snapshot. Recognised keys are
// totalUsd, total_usd and a numeric total; a total map is summed over its
// stablecoin entries.
func (b Balance) TotalUSD() (float64, bool) {
	for _, k := range []string{"totalUsd", "total_usd", "totalUSD", "equity"} {
		if v, ok := toFloat(b[k]); ok {
			return v, true
		}
	}
	switch t := b["total"].(type) {
	case map[string]any:
		sum, found := 0.0, false
		for _, asset := range []string{"USDT", "USD", "USDC", "BUSD"} {
			if v, ok := toFloat(t[asset]); ok {
				sum += v
				found = true
			}
		}
		return sum, found
	default:
		return toFloat(t)
	}
}

// Balance fetches the balance snapshot for userID.
func (c *Client) Balance(ctx context.Context, userID string) (Balance, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if userID == "" {
		return nil, ErrNoUserID
	}
	resp, body, err := c.do(ctx, http.MethodGet, "/api/balance/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error("balance fetch failed", zap.Int("status", resp.StatusCode), zap.String("body", truncate(string(body), 500)))
		return nil, fmt.Errorf("balance: http_%d", resp.StatusCode)
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json") {
		return nil, fmt.Errorf("balance: non_json_response")
	}
	var bal Balance
	if err := json.Unmarshal(body, &bal); err != nil {
		c.log.Error("balance endpoint returned invalid json", zap.String("body", truncate(string(body), 500)))
		return nil, fmt.Errorf("balance: decode: %w", err)
	}
	return bal, nil
}

// TradeRequest is the body of POST /api/trade.
type TradeRequest struct {
	UserID     string  `json:"userId"`
	Exchange   string  `json:"exchange"`
	Side       string  `json:"side"`
	Symbol     string  `json:"symbol"`
	SymbolCcxt string  `json:"symbolCcxt"`
	AmountUSD  float64 `json:"amountUsd"`
}

// TradeResult is the proxy's order descriptor.
type TradeResult struct {
	OrderID string
	Price   float64
	Status  string
	Fields  map[string]any
}

// NormalizeSymbol converts BTC/USDT to BTCUSDT for venues using
// concatenated symbols.
func NormalizeSymbol(venue, symbol string) string {
	v := strings.ReplaceAll(strings.ToLower(venue), ".", "")
	switch v {
	case "binanceus", "binance_us":
		return strings.ReplaceAll(symbol, "/", "")
	}
	return symbol
}

// PlaceTrade submits an order through the proxy. Symbol is the canonical
// slash form; the venue form is derived here.
func (c *Client) PlaceTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if req.UserID == "" {
		return nil, ErrNoUserID
	}
	if req.SymbolCcxt == "" {
		req.SymbolCcxt = req.Symbol
	}
	req.Symbol = NormalizeSymbol(req.Exchange, req.SymbolCcxt)

	resp, body, err := c.do(ctx, http.MethodPost, "/api/trade", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend_trade_failed_%d: %s", resp.StatusCode, truncate(string(body), 1000))
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode trade response: %w", err)
	}
	if e, ok := fields["error"]; ok && e != nil && e != "" {
		return nil, fmt.Errorf("backend trade error: %v", e)
	}

	res := &TradeResult{Fields: fields, Status: "submitted"}
	for _, k := range []string{"orderId", "id"} {
		if v, ok := fields[k]; ok && v != nil {
			res.OrderID = fmt.Sprint(v)
			break
		}
	}
	for _, k := range []string{"price", "avgPrice"} {
		if v, ok := toFloat(fields[k]); ok && v > 0 {
			res.Price = v
			break
		}
	}
	if s, ok := fields["status"].(string); ok && s != "" {
		res.Status = s
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, normalizeTransport(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp, nil, normalizeTransport(err)
	}
	return resp, body, nil
}

func normalizeTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscan(t, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
