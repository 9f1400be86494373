package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/mode"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/db"
)

const (
	keySavedAt  = "saved_at"
	keyMode     = "mode"
	keyActive   = "active_strategy"
	keyRisk     = "risk_settings"
	keyCounters = "daily_counters"
)

// SQLStore keeps state in SQLite. Trades are appended, never rewritten.
type SQLStore struct {
	db *db.Database
}

// NewSQLStore wraps an opened database and applies migrations.
func NewSQLStore(database *db.Database) (*SQLStore, error) {
	if err := db.ApplyMigrations(database); err != nil {
		return nil, err
	}
	return &SQLStore{db: database}, nil
}

func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) error {
	return s.db.WithTx(ctx, func(q *db.Queries) error {
		positions := make([]db.Position, 0, len(snap.Positions))
		for _, p := range snap.Positions {
			positions = append(positions, db.Position{Symbol: p.Symbol, Qty: p.Qty, EntryPrice: p.EntryPrice, EntryTime: p.EntryTime})
		}
		if err := q.ReplacePositions(ctx, positions); err != nil {
			return err
		}
		for _, t := range snap.Trades {
			if err := q.InsertTrade(ctx, toRow(t)); err != nil {
				return err
			}
		}
		for name, params := range snap.Strategies {
			raw, err := json.Marshal(params)
			if err != nil {
				return fmt.Errorf("encode %s params: %w", name, err)
			}
			if err := q.UpsertStrategyParams(ctx, name, string(raw)); err != nil {
				return err
			}
		}

		riskJSON, err := json.Marshal(snap.Risk)
		if err != nil {
			return err
		}
		countersJSON, err := json.Marshal(snap.Counters)
		if err != nil {
			return err
		}
		savedAt := snap.SavedAt
		if savedAt.IsZero() {
			savedAt = time.Now().UTC()
		}
		for k, v := range map[string]string{
			keyMode:     string(snap.Mode),
			keyActive:   snap.ActiveStrategy,
			keyRisk:     string(riskJSON),
			keyCounters: string(countersJSON),
			keySavedAt:  savedAt.UTC().Format(time.RFC3339Nano),
		} {
			if err := q.SetState(ctx, k, v); err != nil {
				return fmt.Errorf("save %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Load(ctx context.Context) (*Snapshot, error) {
	q := s.db.Queries()
	savedAt, err := q.GetState(ctx, keySavedAt)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Version: Version, Strategies: map[string]strategy.Params{}}
	snap.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)

	if v, err := q.GetState(ctx, keyMode); err == nil {
		snap.Mode = mode.Mode(v)
	}
	if v, err := q.GetState(ctx, keyActive); err == nil {
		snap.ActiveStrategy = v
	}
	if v, err := q.GetState(ctx, keyRisk); err == nil {
		if err := json.Unmarshal([]byte(v), &snap.Risk); err != nil {
			return nil, fmt.Errorf("decode risk settings: %w", err)
		}
	}
	if v, err := q.GetState(ctx, keyCounters); err == nil {
		if err := json.Unmarshal([]byte(v), &snap.Counters); err != nil {
			return nil, fmt.Errorf("decode daily counters: %w", err)
		}
	}

	rows, err := q.ListStrategyParams(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		var p strategy.Params
		if err := json.Unmarshal([]byte(r.Params), &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", r.Name, err)
		}
		snap.Strategies[r.Name] = p
	}

	positions, err := q.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		snap.Positions = append(snap.Positions, ledger.Position{Symbol: p.Symbol, Qty: p.Qty, EntryPrice: p.EntryPrice, EntryTime: p.EntryTime})
	}

	trades, err := q.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		snap.Trades = append(snap.Trades, fromRow(t))
	}

	snap.Normalize()
	return snap, nil
}

// RecentTrades reads the newest trades straight from the table.
func (s *SQLStore) RecentTrades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	rows, err := s.db.Queries().RecentTrades(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Trade, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func toRow(t ledger.Trade) db.Trade {
	return db.Trade{
		ID: t.ID, Time: t.Time, Side: t.Side, Symbol: t.Symbol, AmountUSD: t.AmountUSD,
		Qty: t.Qty, Price: t.Price, Live: t.Live, OrderID: t.OrderID, Status: t.Status,
		Path: t.Path, RealizedPnL: t.RealizedPnL,
	}
}

func fromRow(t db.Trade) ledger.Trade {
	return ledger.Trade{
		ID: t.ID, Time: t.Time, Side: t.Side, Symbol: t.Symbol, AmountUSD: t.AmountUSD,
		Qty: t.Qty, Price: t.Price, Live: t.Live, OrderID: t.OrderID, Status: t.Status,
		Path: t.Path, RealizedPnL: t.RealizedPnL,
	}
}
