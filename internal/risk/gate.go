package risk

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Gate validates and caps orders. It holds no per-order state: counters are
// passed in by the owner so that tests can drive day rollover explicitly.
type Gate struct {
	mu        sync.RWMutex
	settings  Settings
	whitelist map[string]bool
	metrics   Metrics
	log       *zap.Logger
}

// NewGate creates a gate for the given whitelist. Settings are clamped.
func NewGate(settings Settings, whitelist []string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		settings:  settings.Clamped(),
		whitelist: make(map[string]bool, len(whitelist)),
		log:       logger.Named("risk"),
	}
	for _, s := range whitelist {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			g.whitelist[s] = true
		}
	}
	return g
}

// Settings returns the effective (clamped) settings.
func (g *Gate) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// SetSettings replaces the settings, clamping them first.
func (g *Gate) SetSettings(s Settings) Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings = s.Clamped()
	return g.settings
}

// Whitelist returns the allowed symbols.
func (g *Gate) Whitelist() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.whitelist))
	for s := range g.whitelist {
		out = append(out, s)
	}
	return out
}

// Allowed reports whether symbol is whitelisted.
func (g *Gate) Allowed(symbol string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.whitelist[strings.ToUpper(symbol)]
}

// Metrics returns a snapshot of the gate counters.
func (g *Gate) Metrics() Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metrics
}

// Evaluate runs the checks in order: rollover, trade count, daily loss, side,
// whitelist, minimum, then the two non-fatal caps. counters is updated only by
// the rollover step.
func (g *Gate) Evaluate(req Request, counters *DailyCounters, in Input) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.ChecksTotal++

	var dec Decision
	if counters.Rollover(in.Day, in.Equity) {
		dec.DailyReset = true
		g.metrics.DailyResets++
		g.log.Info("daily counters reset", zap.Stringer("day", in.Day), zap.Float64("baseline_equity", in.Equity))
	}

	if counters.Trades >= MaxDailyTrades {
		return g.reject(dec, ReasonDailyTradeLimit, fmt.Sprintf("%d/%d trades today", counters.Trades, MaxDailyTrades))
	}

	if in.CheckLoss {
		dec.LossPct = counters.LossPct(in.Equity)
		if dec.LossPct > MaxDailyLossPct {
			dec.LossBreach = true
			g.metrics.LossBreaches++
			g.log.Error("daily loss limit breached",
				zap.Float64("loss_pct", dec.LossPct),
				zap.Float64("baseline_equity", counters.BaselineEquity),
				zap.Float64("equity", in.Equity))
			return g.reject(dec, ReasonDailyLossLimit, fmt.Sprintf("down %.2f%% today", dec.LossPct*100))
		}
	}

	side := strings.ToLower(req.Side)
	if side != "buy" && side != "sell" {
		return g.reject(dec, ReasonInvalidSide, req.Side)
	}
	if !g.whitelist[strings.ToUpper(req.Symbol)] {
		return g.reject(dec, ReasonSymbolNotAllowed, req.Symbol)
	}
	if req.AmountUSD < g.settings.MinTradeUSD || req.AmountUSD <= 0 {
		return g.reject(dec, ReasonBelowMinimum, fmt.Sprintf("%.2f < %.2f", req.AmountUSD, g.settings.MinTradeUSD))
	}

	size := req.AmountUSD
	if limit := min(g.settings.MaxTradeUSD, MaxTradeUSD); size > limit {
		dec.Warnings = append(dec.Warnings, fmt.Sprintf("capped to max trade %.2f", limit))
		g.log.Warn("order capped to max trade size", zap.Float64("requested", size), zap.Float64("cap", limit))
		size = limit
	}
	if in.Equity > 0 {
		limit := in.Equity * min(g.settings.MaxPositionPct, MaxPortfolioRiskPct)
		if size > limit {
			dec.Warnings = append(dec.Warnings, fmt.Sprintf("capped to %.2f (portfolio risk)", limit))
			g.log.Warn("order capped by portfolio risk", zap.Float64("requested", size), zap.Float64("cap", limit), zap.Float64("equity", in.Equity))
			size = limit
		}
	}
	g.metrics.WarningsTotal += uint64(len(dec.Warnings))

	dec.Allowed = true
	dec.AdjustedSize = size
	return dec
}

func (g *Gate) reject(dec Decision, reason, detail string) Decision {
	g.metrics.RejectionsTotal++
	dec.Allowed = false
	dec.Reason = reason
	dec.Detail = detail
	g.log.Info("order rejected", zap.String("reason", reason), zap.String("detail", detail))
	return dec
}
