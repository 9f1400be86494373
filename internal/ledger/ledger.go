// Package ledger keeps open positions and the append-only trade history.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/pkg/id"
)

// ErrNoPosition is returned for a sell of a symbol that is not held.
var ErrNoPosition = errors.New("no open position")

// dust below which a remaining position counts as closed, relative to its size.
const closeTolerance = 1e-9

// Position is an open long position. At most one exists per symbol.
type Position struct {
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// Value is the position valued at price.
func (p Position) Value(price float64) float64 { return p.Qty * price }

// Trade is one executed order. Trades are never modified once appended.
type Trade struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Side        string    `json:"side"`
	Symbol      string    `json:"symbol"`
	AmountUSD   float64   `json:"amount_usd"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	Live        bool      `json:"live"`
	OrderID     string    `json:"order_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Path        string    `json:"path,omitempty"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// Ledger is safe for concurrent readers; writes come from the order router.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
	trades    []Trade
	marks     map[string]float64
	realized  float64
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]Position),
		marks:     make(map[string]float64),
	}
}

// Apply books a fill: a buy opens or averages into the position, a sell
// reduces it and closes it when the held quantity is used up. The stored trade
// (with id and realized PnL filled in) is returned.
func (l *Ledger) Apply(t Trade) (Trade, error) {
	if t.Qty <= 0 || t.Price <= 0 {
		return Trade{}, fmt.Errorf("invalid fill: qty=%v price=%v", t.Qty, t.Price)
	}
	if t.ID == "" {
		t.ID = id.New()
	}
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, held := l.positions[t.Symbol]
	switch t.Side {
	case "buy":
		if !held {
			p = Position{Symbol: t.Symbol, EntryTime: t.Time}
		}
		newQty := p.Qty + t.Qty
		p.EntryPrice = (p.EntryPrice*p.Qty + t.Price*t.Qty) / newQty
		p.Qty = newQty
		l.positions[t.Symbol] = p
	case "sell":
		if !held {
			return Trade{}, fmt.Errorf("sell %s: %w", t.Symbol, ErrNoPosition)
		}
		qty := math.Min(t.Qty, p.Qty)
		t.RealizedPnL = (t.Price - p.EntryPrice) * qty
		l.realized += t.RealizedPnL
		remaining := p.Qty - qty
		if remaining <= p.Qty*closeTolerance {
			delete(l.positions, t.Symbol)
		} else {
			p.Qty = remaining
			l.positions[t.Symbol] = p
		}
	default:
		return Trade{}, fmt.Errorf("invalid side %q", t.Side)
	}

	l.marks[t.Symbol] = t.Price
	l.trades = append(l.trades, t)
	return t, nil
}

// Mark records the latest seen price of symbol.
func (l *Ledger) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	l.marks[symbol] = price
	l.mu.Unlock()
}

// LastPrice returns the last marked or traded price of symbol.
func (l *Ledger) LastPrice(symbol string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.marks[symbol]
	return p, ok
}

// Position returns the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Positions returns all open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

// Trades returns a copy of the full history.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade(nil), l.trades...)
}

// Recent returns up to n of the latest trades, newest first.
func (l *Ledger) Recent(n int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.trades) {
		n = len(l.trades)
	}
	out := make([]Trade, 0, n)
	for i := len(l.trades) - 1; i >= len(l.trades)-n; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// TradeCount is the number of booked trades.
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// RealizedPnL is the sum of realized PnL over all sells.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

// PaperEquity values the simulated account: starting equity plus realized PnL
// plus unrealized PnL at the last marks (entry price when unmarked).
func (l *Ledger) PaperEquity(start float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	eq := start + l.realized
	for sym, p := range l.positions {
		mark, ok := l.marks[sym]
		if !ok {
			mark = p.EntryPrice
		}
		eq += (mark - p.EntryPrice) * p.Qty
	}
	return eq
}

// Performance folds the realized PnL of every sell.
func (l *Ledger) Performance() risk.Performance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var perf risk.Performance
	for _, t := range l.trades {
		if t.Side == "sell" {
			perf.Record(t.RealizedPnL)
		}
	}
	return perf
}

// Restore replaces the ledger contents with persisted state. Positions with
// non-positive quantity or price are dropped; for duplicate symbols the last
// one wins.
func (l *Ledger) Restore(positions []Position, trades []Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]Position, len(positions))
	l.marks = make(map[string]float64)
	for _, p := range positions {
		if p.Qty <= 0 || p.EntryPrice <= 0 {
			continue
		}
		l.positions[p.Symbol] = p
	}
	l.trades = append([]Trade(nil), trades...)
	l.realized = 0
	for _, t := range l.trades {
		l.realized += t.RealizedPnL
	}
}
