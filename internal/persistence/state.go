// Package persistence saves and restores the bot's durable state: positions,
// trade history, strategy params, mode, active strategy, risk settings and
// daily counters.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
)

// Version of the snapshot layout.
const Version = 1

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("no saved state")

// Snapshot is everything that survives a restart.
type Snapshot struct {
	Version        int                        `json:"version"`
	SavedAt        time.Time                  `json:"saved_at"`
	Mode           mode.Mode                  `json:"mode"`
	ActiveStrategy string                     `json:"active_strategy"`
	Strategies     map[string]strategy.Params `json:"strategies"`
	Risk           risk.Settings              `json:"risk_settings"`
	Counters       risk.DailyCounters         `json:"daily_counters"`
	Positions      []ledger.Position          `json:"positions"`
	Trades         []ledger.Trade             `json:"trades"`
}

// Normalize fixes up a loaded snapshot. Live mode is never restored: it loads
// as paper and must be enabled again.
func (s *Snapshot) Normalize() {
	if s.Mode == mode.Live || s.Mode == "" {
		s.Mode = mode.Paper
	}
	s.Mode = mode.ParseMode(string(s.Mode))
	s.Risk = s.Risk.Clamped()
	if s.Strategies == nil {
		s.Strategies = map[string]strategy.Params{}
	}
}

// Store persists snapshots.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}
