// Package reconciliation compares the ledger with exchange balances while
// trading live on the exchange path.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

// DefaultTolerance is the relative shortfall ignored, covering exchange fees
// taken in the base asset.
const DefaultTolerance = 0.002

// Balances is the exchange side of a reconciliation.
type Balances interface {
	Balance(ctx context.Context) (common.Balance, error)
}

// Service handles periodic reconciliation.
type Service struct {
	exchange Balances
	ledger   *ledger.Ledger
	bus      *events.Bus
	log      *zap.Logger

	// Tolerance is the relative shortfall ignored per position.
	Tolerance float64
	// Active gates reconciliation; nil means always.
	Active func() bool
	Now    func() time.Time

	mu sync.Mutex
}

// Report contains reconciliation results.
type Report struct {
	Time    time.Time      `json:"time"`
	Checked int            `json:"checked"`
	Diffs   []PositionDiff `json:"diffs"`
	Skipped bool           `json:"skipped,omitempty"`
}

// HasDiffs reports whether any position is short on the exchange.
func (r *Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// PositionDiff is a ledger position the exchange account cannot cover.
type PositionDiff struct {
	Symbol      string  `json:"symbol"`
	Asset       string  `json:"asset"`
	LocalQty    float64 `json:"local_qty"`
	ExchangeQty float64 `json:"exchange_qty"`
	Difference  float64 `json:"difference"`
}

func NewService(exchange Balances, l *ledger.Ledger, bus *events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		exchange:  exchange,
		ledger:    l,
		bus:       bus,
		log:       logger.Named("reconciliation"),
		Tolerance: DefaultTolerance,
		Now:       time.Now,
	}
}

// Start reconciles every interval until ctx is done. The returned channel is
// closed when the loop exits.
func (s *Service) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
					s.log.Warn("reconciliation failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("reconciliation started", zap.Duration("interval", interval))
	return done
}

// Reconcile checks every ledger position against the exchange balance of its
// base asset. Extra holdings on the exchange are not a difference; the account
// may hold coins the bot never bought. Each shortfall raises a risk alert.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Time: s.Now().UTC(), Diffs: []PositionDiff{}}
	if s.exchange == nil || (s.Active != nil && !s.Active()) {
		report.Skipped = true
		return report, nil
	}

	positions := s.ledger.Positions()
	if len(positions) == 0 {
		return report, nil
	}
	bal, err := s.exchange.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	for _, p := range positions {
		report.Checked++
		base, _ := common.SplitSymbol(p.Symbol)
		asset := strings.ToUpper(base)
		have := bal.Total[asset]
		if have >= p.Qty*(1-s.Tolerance) || math.Abs(p.Qty-have) < 1e-9 {
			continue
		}
		diff := PositionDiff{
			Symbol:      p.Symbol,
			Asset:       asset,
			LocalQty:    p.Qty,
			ExchangeQty: have,
			Difference:  p.Qty - have,
		}
		report.Diffs = append(report.Diffs, diff)
		s.log.Warn("position mismatch",
			zap.String("symbol", diff.Symbol),
			zap.Float64("local_qty", diff.LocalQty),
			zap.Float64("exchange_qty", diff.ExchangeQty))
		s.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Kind: events.AlertPositionMismatch,
			Message: fmt.Sprintf("%s: ledger holds %.8f %s, exchange %.8f",
				diff.Symbol, diff.LocalQty, asset, diff.ExchangeQty),
		})
	}
	if !report.HasDiffs() {
		s.log.Debug("reconciliation ok", zap.Int("positions", report.Checked))
	}
	return report, nil
}
