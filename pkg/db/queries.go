package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Queries runs statements against either the database or a transaction.
type Queries struct {
	q querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries returns a query set bound to the database handle.
func (d *Database) Queries() *Queries {
	return &Queries{q: d.DB}
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (d *Database) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ----------------------------------------
// Positions
// ----------------------------------------

// ReplacePositions overwrites the positions table with ps.
func (q *Queries) ReplacePositions(ctx context.Context, ps []Position) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	for _, p := range ps {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO positions (symbol, qty, entry_price, entry_time, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, p.Symbol, p.Qty, p.EntryPrice, p.EntryTime.UTC())
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// ListPositions returns all open positions ordered by symbol.
func (q *Queries) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT symbol, qty, entry_price, entry_time
		FROM positions
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.EntryPrice, &p.EntryTime); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Trades
// ----------------------------------------

// InsertTrade appends t; re-inserting an existing id is a no-op.
func (q *Queries) InsertTrade(ctx context.Context, t Trade) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO trades (
			id, ts, side, symbol, amount_usd, qty, price, live, order_id, status, path, realized_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		t.ID, t.Time.UTC(), t.Side, t.Symbol, t.AmountUSD, t.Qty, t.Price, t.Live, t.OrderID, t.Status, t.Path, t.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListTrades returns every trade oldest first.
func (q *Queries) ListTrades(ctx context.Context) ([]Trade, error) {
	return q.scanTrades(ctx, `
		SELECT id, ts, side, symbol, amount_usd, qty, price, live, order_id, status, path, realized_pnl
		FROM trades ORDER BY ts, id`)
}

// RecentTrades returns up to limit trades newest first.
func (q *Queries) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.scanTrades(ctx, `
		SELECT id, ts, side, symbol, amount_usd, qty, price, live, order_id, status, path, realized_pnl
		FROM trades ORDER BY ts DESC, id DESC LIMIT ?`, limit)
}

func (q *Queries) scanTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Time, &t.Side, &t.Symbol, &t.AmountUSD, &t.Qty, &t.Price, &t.Live, &t.OrderID, &t.Status, &t.Path, &t.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Strategy params
// ----------------------------------------

// UpsertStrategyParams stores params (JSON) for name.
func (q *Queries) UpsertStrategyParams(ctx context.Context, name, params string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO strategy_params (name, params, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			params = excluded.params,
			updated_at = CURRENT_TIMESTAMP
	`, name, params)
	return err
}

// ListStrategyParams returns every stored strategy row.
func (q *Queries) ListStrategyParams(ctx context.Context) ([]StrategyParams, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT name, params, updated_at FROM strategy_params ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query strategy params: %w", err)
	}
	defer rows.Close()

	var res []StrategyParams
	for rows.Next() {
		var s StrategyParams
		if err := rows.Scan(&s.Name, &s.Params, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy params: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Bot state (key/value)
// ----------------------------------------

// SetState stores value under key.
func (q *Queries) SetState(ctx context.Context, key, value string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO bot_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// GetState returns the value of key or ErrNotFound.
func (q *Queries) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := q.q.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}
