package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the SQLite handle behind the sqlite state backend.
type Database struct {
	DB   *sql.DB
	Path string
}

// pragmas applied to every file database; a second process waits for the
// write lock instead of failing with SQLITE_BUSY.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"

// New opens the SQLite database at path, creating its directory. ":memory:"
// gives a private in-memory database.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn += pragmas
	}

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; the in-memory database also lives on a single connection
	handle.SetMaxOpenConns(1)
	handle.SetConnMaxLifetime(0)

	return &Database{DB: handle, Path: path}, nil
}

// Ping checks the file can be opened within the timeout.
func (d *Database) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite %s: %w", d.Path, err)
	}
	return nil
}

// Close releases the handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
