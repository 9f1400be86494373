// Package spot is a Binance spot REST session (binance.com, binance.us and the
// spot testnet) implementing common.Session.
package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

const (
	BaseURLGlobal  = "https://api.binance.com"
	BaseURLUS      = "https://api.binance.us"
	BaseURLTestnet = "https://testnet.binance.vision"
)

// Config holds Binance credentials and endpoint selection.
type Config struct {
	Venue      string // "binance" or "binanceus"
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides Venue/Testnet when set
	RecvWindow int64  // ms
	Timeout    time.Duration
	// RequestsPerSecond paces outgoing requests; zero means 10/s.
	RequestsPerSecond float64
}

// Client is a Binance spot session.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	weight     *common.WeightTracker
	clock      *common.ServerClock
	log        *zap.Logger

	mu    sync.RWMutex
	steps map[string]decimal.Decimal // LOT_SIZE stepSize per venue symbol
}

// New builds a client. Without key and secret the session is read-only.
func New(cfg Config, logger *zap.Logger) *Client {
	base := BaseURLGlobal
	switch {
	case cfg.BaseURL != "":
		base = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Testnet:
		base = BaseURLTestnet
	case isUSVenue(cfg.Venue):
		base = BaseURLUS
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		weight:     common.NewWeightTracker(weightLimit, time.Minute),
		log:        logger.Named("binance"),
		steps:      make(map[string]decimal.Decimal),
	}
	c.clock = common.NewServerClock(c.ServerTime, 30*time.Minute)
	return c
}

// weightLimit is the spot REST request weight allowed per minute.
const weightLimit = 6000

// ServerTime returns the exchange clock in ms.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "server_time", "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, decodeErr("server_time", err)
	}
	if out.ServerTime <= 0 {
		return 0, &common.Error{Class: common.ClassUnknown, Op: "server_time", Msg: "missing serverTime"}
	}
	return out.ServerTime, nil
}

func isUSVenue(v string) bool {
	switch strings.ToLower(strings.ReplaceAll(v, ".", "")) {
	case "binanceus", "binance_us":
		return true
	}
	return false
}

// Name implements common.Session.
func (c *Client) Name() string {
	if c.cfg.Venue != "" {
		return c.cfg.Venue
	}
	return "binance"
}

// Authenticated implements common.Session.
func (c *Client) Authenticated() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

func (c *Client) requireAuth(op string) error {
	if c.Authenticated() {
		return nil
	}
	return &common.Error{Class: common.ClassAuth, Op: op, Msg: "binance: API key/secret required"}
}

// doPublic performs an unsigned GET.
func (c *Client) doPublic(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, op, req)
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, op, method, path string, params url.Values) ([]byte, error) {
	if err := c.requireAuth(op); err != nil {
		return nil, err
	}
	if c.clock.Stale() {
		if err := c.clock.Sync(ctx); err != nil {
			c.log.Debug("time sync failed, using local clock", zap.Error(err))
		}
	}
	params.Set("timestamp", strconv.FormatInt(c.clock.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in query string.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(ctx, op, req)
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &common.Error{Class: common.Classify(err), Op: op, Err: err}
	}
	if c.weight.Saturated() {
		used, limit, _ := c.weight.Usage()
		return nil, &common.Error{Class: common.ClassRateLimit, Op: op, Msg: fmt.Sprintf("request weight %d/%d", used, limit)}
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		class := common.Classify(err)
		if errors.Is(err, context.Canceled) {
			class = common.ClassUnknown
		} else if class == common.ClassUnknown {
			// Dial, reset and TLS failures surface as *url.Error.
			var ue *url.Error
			if errors.As(err, &ue) {
				class = common.ClassTransient
			}
		}
		return nil, &common.Error{Class: class, Op: op, Err: err}
	}
	defer res.Body.Close()

	if h := res.Header.Get("X-Mbx-Used-Weight-1m"); h != "" {
		if pct := c.weight.UpdateFromHeader(h); pct >= 80 {
			c.log.Warn("rate limit warning", zap.String("used_weight", h), zap.Float64("pct", pct))
		}
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		apiErr := classifyResponse(op, res.StatusCode, body)
		if apiErr.Code == -1021 {
			c.clock.Invalidate()
		}
		c.log.Debug("request failed",
			zap.String("op", op),
			zap.Int("status", res.StatusCode),
			zap.String("class", apiErr.Class.String()),
			zap.String("msg", apiErr.Msg))
		return nil, apiErr
	}
	return body, nil
}

// classifyResponse maps HTTP status and Binance error codes onto retry classes.
func classifyResponse(op string, status int, body []byte) *common.Error {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Msg != "" {
		msg = payload.Msg
	}
	e := &common.Error{Op: op, Status: status, Code: payload.Code, Msg: msg}

	switch payload.Code {
	case -2014, -2015, -1022, -2008:
		e.Class = common.ClassAuth
		return e
	case -1003, -1015:
		e.Class = common.ClassRateLimit
		return e
	case -1001, -1021, -1007:
		e.Class = common.ClassTransient
		return e
	}

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status == http.StatusForbidden:
		e.Class = common.ClassRateLimit
	case status == http.StatusUnauthorized:
		e.Class = common.ClassAuth
	case status >= 500:
		e.Class = common.ClassTransient
	default:
		e.Class = common.ClassUnknown
	}
	return e
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decodeErr(op string, err error) error {
	return fmt.Errorf("decode %s response: %w", op, err)
}
