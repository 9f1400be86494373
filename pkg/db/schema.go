package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    entry_time DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    ts DATETIME NOT NULL,
    side TEXT NOT NULL,
    symbol TEXT NOT NULL,
    amount_usd REAL NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    live INTEGER NOT NULL DEFAULT 0,
    order_id TEXT DEFAULT '',
    status TEXT DEFAULT '',
    realized_pnl REAL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);

CREATE TABLE IF NOT EXISTS strategy_params (
    name TEXT PRIMARY KEY,
    params TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bot_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "trades", "path", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
