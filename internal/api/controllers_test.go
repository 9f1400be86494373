package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalinkpact/cryptopiggy/internal/engine"
	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/monitor"
	"github.com/digitalinkpact/cryptopiggy/internal/order"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

const (
	testSecret = "test-secret"
	testSymbol = "BTC/USDT"
)

func newTestServer(t *testing.T, opts Options) (*Server, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := risk.NewGate(risk.DefaultSettings(), []string{testSymbol}, nil)
	router := order.NewRouter(order.Config{Venue: "binanceus"}, mode.New(mode.Options{}), gate, ledger.New(), nil)
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	eng := engine.New(engine.Config{Venue: "binanceus", Symbol: testSymbol, Interval: "1h"}, engine.Deps{
		Router:   router,
		Registry: strategy.NewRegistry(),
		Bars:     market.NewSynthetic(50000, 7),
		Bus:      bus,
		Metrics:  metrics,
	})
	s := NewServer(eng, bus, metrics, opts, nil)
	t.Cleanup(s.limiters.stop)
	return s, bus
}

func authedServer(t *testing.T) (*Server, string) {
	t.Helper()
	s, _ := newTestServer(t, Options{JWTSecret: testSecret})
	token, _, err := GenerateToken("operator", testSecret, time.Hour)
	require.NoError(t, err)
	return s, token
}

func do(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	s, _ := authedServer(t)

	w := do(s, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", decode(t, w)["code"])

	w = do(s, http.MethodGet, "/api/status", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, w)["code"])

	other, _, err := GenerateToken("operator", "other-secret", time.Hour)
	require.NoError(t, err)
	w = do(s, http.MethodGet, "/api/status", other, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthNotConfigured(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/api/status", "anything", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "AUTH_NOT_CONFIGURED", decode(t, w)["code"])

	_, _, err := GenerateToken("operator", "", time.Hour)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	s, token := authedServer(t)
	w := do(s, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	m := body["mode"].(map[string]any)
	assert.Equal(t, "paper", m["mode"])
	assert.Equal(t, false, m["live"])
	assert.Equal(t, testSymbol, body["symbol"])
	assert.Equal(t, float64(risk.MaxDailyTrades), body["daily_trade_limit"])
}

func TestCreateOrderPaperBuyThenTrades(t *testing.T) {
	s, token := authedServer(t)

	w := do(s, http.MethodPost, "/api/orders", token, gin.H{"side": "BUY", "symbol": testSymbol, "amount_usd": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res order.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, order.PathPaper, res.Path)
	assert.False(t, res.Live)
	assert.Equal(t, "buy", res.Trade.Side)
	assert.InDelta(t, 10, res.Trade.AmountUSD, 1e-9)

	w = do(s, http.MethodGet, "/api/positions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["positions"], 1)

	w = do(s, http.MethodGet, "/api/trades?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestCreateOrderErrors(t *testing.T) {
	s, token := authedServer(t)

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"sell without position", gin.H{"side": "sell", "symbol": testSymbol, "amount_usd": 10}, http.StatusConflict, "NO_POSITION"},
		{"below minimum", gin.H{"side": "buy", "symbol": testSymbol, "amount_usd": 0.5}, http.StatusUnprocessableEntity, "ORDER_REJECTED"},
		{"symbol not allowed", gin.H{"side": "buy", "symbol": "DOGE/USDT", "amount_usd": 10}, http.StatusUnprocessableEntity, "ORDER_REJECTED"},
		{"bad side", gin.H{"side": "hold", "symbol": testSymbol, "amount_usd": 10}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing amount", gin.H{"side": "buy", "symbol": testSymbol}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/api/orders", token, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode(t, w)["code"])
		})
	}

	w := do(s, http.MethodPost, "/api/orders", token, gin.H{"side": "buy", "symbol": testSymbol, "amount_usd": 0.5})
	assert.Equal(t, risk.ReasonBelowMinimum, decode(t, w)["reason"])
}

func TestLiveEnableRefused(t *testing.T) {
	s, token := authedServer(t)

	w := do(s, http.MethodPost, "/api/live/enable", token, gin.H{"confirmation": mode.ConfirmPhrase})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LIVE_NOT_ALLOWED", decode(t, w)["code"])

	w = do(s, http.MethodPost, "/api/live/enable", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPost, "/api/live/disable", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paper", decode(t, w)["mode"])
}

func TestBackendHealthDisabled(t *testing.T) {
	s, token := authedServer(t)
	w := do(s, http.MethodGet, "/api/backend/health", token, nil)
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
	assert.Contains(t, decode(t, w), "ok")
}

func TestStrategies(t *testing.T) {
	s, token := authedServer(t)

	w := do(s, http.MethodGet, "/api/strategies", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Strategies []engine.StrategyInfo `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	names := make([]string, 0, len(list.Strategies))
	for _, info := range list.Strategies {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{strategy.NameSMACrossover, strategy.NameRSI, strategy.NameBollinger}, names)

	w = do(s, http.MethodPut, "/api/strategies/active", token, gin.H{"name": strategy.NameRSI})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(s, http.MethodGet, "/api/status", token, nil)
	assert.Equal(t, strategy.NameRSI, decode(t, w)["active_strategy"])

	w = do(s, http.MethodPut, "/api/strategies/active", token, gin.H{"name": "martingale"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPut, "/api/strategies/"+strategy.NameSMACrossover+"/params", token, gin.H{"short_window": 5, "long_window": 20})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(5), decode(t, w)["params"].(map[string]any)["short_window"])

	w = do(s, http.MethodPut, "/api/strategies/"+strategy.NameSMACrossover+"/params", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPut, "/api/strategies/nope/params", token, gin.H{"x": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBacktestAndHyperopt(t *testing.T) {
	s, token := authedServer(t)

	w := do(s, http.MethodPost, "/api/backtest", token, gin.H{"strategy": strategy.NameSMACrossover, "bars": 200})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, strategy.NameSMACrossover, body["strategy"])
	assert.NotNil(t, body["result"])

	w = do(s, http.MethodPost, "/api/backtest", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(s, http.MethodPost, "/api/hyperopt", token, gin.H{"strategy": strategy.NameRSI, "bars": 200, "trials": 5, "seed": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["applied"])

	w = do(s, http.MethodPost, "/api/backtest", token, gin.H{"strategy": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsCountsRequests(t *testing.T) {
	s, token := authedServer(t)
	do(s, http.MethodGet, "/health", "", nil)
	do(s, http.MethodGet, "/api/status", "", nil)

	w := do(s, http.MethodGet, "/api/metrics", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.GreaterOrEqual(t, body["api_requests"].(float64), float64(2))
	assert.GreaterOrEqual(t, body["api_errors"].(float64), float64(1))
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Options{RatePerSecond: 1, Burst: 2})
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, do(s, http.MethodGet, "/health", "", nil).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestWebsocketStreamsEvents(t *testing.T) {
	s, bus := newTestServer(t, Options{JWTSecret: testSecret})
	token, _, err := GenerateToken("operator", testSecret, time.Hour)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until a
	// message arrives.
	got := make(chan events.Envelope, 1)
	go func() {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		bus.Publish(events.EventRiskAlert, events.RiskAlert{Kind: events.AlertTrailingStop, Message: "stop"})
		select {
		case env := <-got:
			assert.Equal(t, events.EventRiskAlert, env.Topic)
			return
		case <-deadline:
			t.Fatal("no websocket message")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
