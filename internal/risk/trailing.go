package risk

import "sync"

// TrailingStop tracks the high-water mark of long positions and reports when
// price falls the configured fraction below it.
type TrailingStop struct {
	mu     sync.Mutex
	offset float64
	marks  map[string]float64
}

func NewTrailingStop(offset float64) *TrailingStop {
	return &TrailingStop{offset: offset, marks: make(map[string]float64)}
}

// Track starts (or keeps) tracking symbol from entry.
func (t *TrailingStop) Track(symbol string, entry float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.marks[symbol]; !ok {
		t.marks[symbol] = entry
	}
}

// Update moves the high-water mark and reports whether the stop is hit.
// Untracked symbols and a zero offset never trigger.
func (t *TrailingStop) Update(symbol string, price float64) (stop float64, hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hwm, ok := t.marks[symbol]
	if !ok || t.offset <= 0 {
		return 0, false
	}
	if price > hwm {
		hwm = price
		t.marks[symbol] = hwm
	}
	stop = hwm * (1 - t.offset)
	return stop, price <= stop
}

// Remove stops tracking symbol.
func (t *TrailingStop) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.marks, symbol)
}

// Performance tracks realized results across trades.
type Performance struct {
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	ConsecLosses     int     `json:"consec_losses"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
}

// Record folds one realized PnL into the totals. A loss extends the streak,
// anything else ends it.
func (p *Performance) Record(pnl float64) {
	p.TotalRealizedPnL += pnl
	if pnl < 0 {
		p.ConsecLosses++
		p.Losses++
	} else {
		p.ConsecLosses = 0
		p.Wins++
	}
	if p.TotalRealizedPnL > p.MaxProfit {
		p.MaxProfit = p.TotalRealizedPnL
	}
	if dd := p.MaxProfit - p.TotalRealizedPnL; dd > p.MaxDrawdown {
		p.MaxDrawdown = dd
	}
}

// WinRate is wins over closed trades, 0 with none.
func (p Performance) WinRate() float64 {
	n := p.Wins + p.Losses
	if n == 0 {
		return 0
	}
	return float64(p.Wins) / float64(n)
}
