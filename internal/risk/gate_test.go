package risk

import (
	"errors"
	"testing"
	"time"
)

func newTestGate() *Gate {
	return NewGate(DefaultSettings(), []string{"BTC/USDT"}, nil)
}

func TestEvaluateSizing(t *testing.T) {
	day := DayOf(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	tests := []struct {
		name     string
		req      Request
		equity   float64
		allowed  bool
		reason   string
		wantSize float64
	}{
		{"hard cap binds before risk cap", Request{"buy", "BTC/USDT", 1000}, 10000, true, "", 50},
		{"below minimum", Request{"buy", "BTC/USDT", 0.5}, 10000, false, ReasonBelowMinimum, 0},
		{"not whitelisted", Request{"buy", "ETH/USDT", 25}, 10000, false, ReasonSymbolNotAllowed, 0},
		{"invalid side", Request{"short", "BTC/USDT", 25}, 10000, false, ReasonInvalidSide, 0},
		{"risk cap binds on small equity", Request{"buy", "BTC/USDT", 40}, 1000, true, "", 10},
		{"within limits", Request{"sell", "btc/usdt", 25}, 10000, true, "", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate()
			counters := &DailyCounters{}
			dec := g.Evaluate(tt.req, counters, Input{Equity: tt.equity, Day: day})
			if dec.Allowed != tt.allowed {
				t.Fatalf("allowed=%v, expected %v (reason %q)", dec.Allowed, tt.allowed, dec.Reason)
			}
			if dec.Reason != tt.reason {
				t.Fatalf("reason=%q, expected %q", dec.Reason, tt.reason)
			}
			if dec.AdjustedSize != tt.wantSize {
				t.Fatalf("size=%v, expected %v", dec.AdjustedSize, tt.wantSize)
			}
			if !tt.allowed {
				var rej *RejectionError
				if !errors.As(dec.Err(), &rej) || rej.Reason != tt.reason {
					t.Fatalf("Err()=%v, expected rejection %q", dec.Err(), tt.reason)
				}
			} else if dec.Err() != nil {
				t.Fatalf("Err()=%v for allowed decision", dec.Err())
			}
		})
	}
}

func TestDailyResetHappensOnce(t *testing.T) {
	g := newTestGate()
	d1 := DayOf(time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC))
	d2 := DayOf(time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC))
	counters := &DailyCounters{Trades: 7, BaselineEquity: 9000, ResetDay: d1}

	dec := g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 10000, Day: d1})
	if dec.DailyReset || counters.Trades != 7 {
		t.Fatalf("unexpected reset on same day: %+v", counters)
	}

	dec = g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 10000, Day: d2})
	if !dec.DailyReset {
		t.Fatalf("expected reset on new day")
	}
	if counters.Trades != 0 || counters.BaselineEquity != 10000 || counters.ResetDay != d2 {
		t.Fatalf("counters not reset: %+v", counters)
	}

	counters.Trades = 3
	dec = g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 9950, Day: d2})
	if dec.DailyReset || counters.Trades != 3 {
		t.Fatalf("second check on the same day re-reset: %+v", counters)
	}
	if got := g.Metrics().DailyResets; got != 1 {
		t.Fatalf("DailyResets=%d, expected 1", got)
	}
}

func TestDailyTradeLimit(t *testing.T) {
	g := newTestGate()
	day := Day(20250301)
	counters := &DailyCounters{Trades: MaxDailyTrades, BaselineEquity: 10000, ResetDay: day}
	dec := g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 10000, Day: day})
	if dec.Allowed || dec.Reason != ReasonDailyTradeLimit {
		t.Fatalf("expected daily_trade_limit, got %+v", dec)
	}
}

func TestDailyLossBreach(t *testing.T) {
	g := newTestGate()
	day := Day(20250301)
	counters := &DailyCounters{BaselineEquity: 10000, ResetDay: day}

	dec := g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 9400, Day: day, CheckLoss: true})
	if dec.Allowed || !dec.LossBreach || dec.Reason != ReasonDailyLossLimit {
		t.Fatalf("expected loss breach, got %+v", dec)
	}

	dec = g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 9400, Day: day})
	if !dec.Allowed {
		t.Fatalf("loss check disabled should allow, got %+v", dec)
	}

	dec = g.Evaluate(Request{"buy", "BTC/USDT", 10}, counters, Input{Equity: 9600, Day: day, CheckLoss: true})
	if !dec.Allowed || dec.LossBreach {
		t.Fatalf("4%% loss is within the cap, got %+v", dec)
	}
}

func TestSettingsClamped(t *testing.T) {
	s := Settings{MaxPositionPct: 0.5, MaxTradeUSD: 500, MinTradeUSD: 100}.Clamped()
	if s.MaxPositionPct != MaxPortfolioRiskPct {
		t.Fatalf("MaxPositionPct=%v", s.MaxPositionPct)
	}
	if s.MaxTradeUSD != MaxTradeUSD {
		t.Fatalf("MaxTradeUSD=%v", s.MaxTradeUSD)
	}
	if s.MinTradeUSD != MaxTradeUSD {
		t.Fatalf("MinTradeUSD=%v should not exceed max", s.MinTradeUSD)
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	d := DayOf(time.Date(2025, 3, 2, 6, 0, 0, 0, loc))
	if d != 20250301 {
		t.Fatalf("DayOf=%d, expected 20250301", d)
	}
	if d.String() != "2025-03-01" {
		t.Fatalf("String=%s", d)
	}
}

func TestTrailingStop(t *testing.T) {
	ts := NewTrailingStop(0.02)
	ts.Track("BTC/USDT", 100)
	if _, hit := ts.Update("BTC/USDT", 99); hit {
		t.Fatalf("1%% drop should not trigger")
	}
	ts.Update("BTC/USDT", 110)
	stop, hit := ts.Update("BTC/USDT", 107.7)
	if !hit {
		t.Fatalf("expected trigger below %.2f", stop)
	}
	ts.Remove("BTC/USDT")
	if _, hit := ts.Update("BTC/USDT", 1); hit {
		t.Fatalf("untracked symbol triggered")
	}
}

func TestPerformanceStreak(t *testing.T) {
	var p Performance
	for _, pnl := range []float64{5, -1, -2, -3} {
		p.Record(pnl)
	}
	if p.ConsecLosses != 3 {
		t.Fatalf("ConsecLosses=%d", p.ConsecLosses)
	}
	if p.MaxDrawdown != 6 {
		t.Fatalf("MaxDrawdown=%v", p.MaxDrawdown)
	}
	p.Record(1)
	if p.ConsecLosses != 0 || p.WinRate() != 0.4 {
		t.Fatalf("after win: %+v rate=%v", p, p.WinRate())
	}
}
