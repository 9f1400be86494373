// Package exchangetest provides a scripted in-memory exchange session.
package exchangetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// Order is a market order the fake received.
type Order struct {
	Symbol   string
	Side     common.Side
	Qty      float64
	ClientID string
}

// Session is a fake common.Session. Errors queued in Fail are returned, in
// order, before the op succeeds.
type Session struct {
	mu sync.Mutex

	Venue    string
	Auth     bool
	Prices   map[string]float64
	Series   []market.Bar
	Balances map[string]float64
	Fail     map[string][]error

	Calls  map[string]int
	Orders []Order
	// ClientIDs has the client order id of every create_order attempt,
	// failed ones included.
	ClientIDs []string
}

// New returns an authenticated fake with the given prices.
func New(prices map[string]float64) *Session {
	return &Session{
		Venue:    "fake",
		Auth:     true,
		Prices:   prices,
		Balances: map[string]float64{},
		Fail:     map[string][]error{},
		Calls:    map[string]int{},
	}
}

// FailNext queues errs for op ("fetch_ticker", "fetch_ohlcv", "fetch_balance", "create_order").
func (s *Session) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[op] = append(s.Fail[op], errs...)
}

// CallCount returns how often op was invoked.
func (s *Session) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[op]
}

func (s *Session) next(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Calls == nil {
		s.Calls = map[string]int{}
	}
	s.Calls[op]++
	if q := s.Fail[op]; len(q) > 0 {
		s.Fail[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Session) Name() string        { return s.Venue }
func (s *Session) Authenticated() bool { return s.Auth }

func (s *Session) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	if err := s.next("fetch_ticker"); err != nil {
		return common.Ticker{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prices[symbol]
	if !ok {
		return common.Ticker{}, &common.Error{Class: common.ClassUnknown, Op: "fetch_ticker", Msg: "unknown symbol " + symbol}
	}
	return common.Ticker{Symbol: symbol, Last: p}, nil
}

func (s *Session) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	if err := s.next("fetch_ohlcv"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.Series
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]market.Bar(nil), bars...), nil
}

func (s *Session) FetchBalance(ctx context.Context) (common.Balance, error) {
	if err := s.next("fetch_balance"); err != nil {
		return common.Balance{}, err
	}
	if !s.Auth {
		return common.Balance{}, &common.Error{Class: common.ClassAuth, Op: "fetch_balance", Msg: "read-only"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := common.Balance{Total: map[string]float64{}}
	for k, v := range s.Balances {
		out.Total[k] = v
	}
	return out, nil
}

func (s *Session) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64, clientID string) (common.OrderResult, error) {
	s.mu.Lock()
	s.ClientIDs = append(s.ClientIDs, clientID)
	s.mu.Unlock()
	if err := s.next("create_order"); err != nil {
		return common.OrderResult{}, err
	}
	if !s.Auth {
		return common.OrderResult{}, &common.Error{Class: common.ClassAuth, Op: "create_order", Msg: "read-only"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Orders = append(s.Orders, Order{Symbol: symbol, Side: side, Qty: qty, ClientID: clientID})
	price := s.Prices[symbol]
	return common.OrderResult{
		ExchangeOrderID: strconv.Itoa(len(s.Orders)),
		ClientID:        clientID,
		Status:          common.StatusFilled,
		Price:           price,
		ExecutedQty:     qty,
		QuoteQty:        qty * price,
	}, nil
}

// Transient is a convenience transient error.
func Transient(op string) error {
	return &common.Error{Class: common.ClassTransient, Op: op, Err: fmt.Errorf("connection reset")}
}

// Auth is a convenience authentication error.
func Auth(op string) error {
	return &common.Error{Class: common.ClassAuth, Op: op, Status: 401, Code: -2015, Msg: "Invalid API-key"}
}

// RateLimited is a convenience rate-limit error.
func RateLimited(op string) error {
	return &common.Error{Class: common.ClassRateLimit, Op: op, Status: 429, Code: -1003, Msg: "Too much request weight used"}
}
