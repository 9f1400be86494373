package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestNewFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	database, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	if err := database.Ping(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := ApplyMigrations(database); err != nil {
		t.Fatal(err)
	}
	if _, err := New(""); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := openTest(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	ok, err := columnExists(database.DB, "trades", "path")
	if err != nil || !ok {
		t.Fatalf("trades.path missing: ok=%v err=%v", ok, err)
	}
}

func TestPositionsReplace(t *testing.T) {
	database := openTest(t)
	q := database.Queries()
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := q.ReplacePositions(ctx, []Position{
		{Symbol: "ETH/USDT", Qty: 0.5, EntryPrice: 3000, EntryTime: now},
		{Symbol: "BTC/USDT", Qty: 0.001, EntryPrice: 50000, EntryTime: now},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := q.ReplacePositions(ctx, []Position{{Symbol: "BTC/USDT", Qty: 0.002, EntryPrice: 51000, EntryTime: now}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := q.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Qty != 0.002 || got[0].EntryPrice != 51000 {
		t.Fatalf("unexpected positions: %+v", got)
	}
	if !got[0].EntryTime.Equal(now) {
		t.Fatalf("entry time %v, expected %v", got[0].EntryTime, now)
	}
}

func TestTradesAppendOnly(t *testing.T) {
	database := openTest(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	err := database.WithTx(ctx, func(q *Queries) error {
		for i, id := range []string{"01A", "01B", "01C"} {
			tr := Trade{ID: id, Time: t0.Add(time.Duration(i) * time.Minute), Side: "buy", Symbol: "BTC/USDT", AmountUSD: 10, Qty: 0.0002, Price: 50000, Path: "paper"}
			if err := q.InsertTrade(ctx, tr); err != nil {
				return err
			}
		}
		// duplicate id is ignored
		return q.InsertTrade(ctx, Trade{ID: "01A", Time: t0, Side: "sell", Symbol: "BTC/USDT"})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	q := database.Queries()
	all, err := q.ListTrades(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "01A" || all[0].Side != "buy" {
		t.Fatalf("unexpected trades: %+v", all)
	}
	recent, err := q.RecentTrades(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "01C" {
		t.Fatalf("recent should be newest first: %+v", recent)
	}
}

func TestStateAndParams(t *testing.T) {
	database := openTest(t)
	q := database.Queries()
	ctx := context.Background()

	if _, err := q.GetState(ctx, "mode"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := q.SetState(ctx, "mode", "paper"); err != nil {
		t.Fatal(err)
	}
	if err := q.SetState(ctx, "mode", "dry_run"); err != nil {
		t.Fatal(err)
	}
	if v, _ := q.GetState(ctx, "mode"); v != "dry_run" {
		t.Fatalf("mode=%q", v)
	}

	if err := q.UpsertStrategyParams(ctx, "rsi", `{"rsi_period":14}`); err != nil {
		t.Fatal(err)
	}
	if err := q.UpsertStrategyParams(ctx, "rsi", `{"rsi_period":21}`); err != nil {
		t.Fatal(err)
	}
	rows, err := q.ListStrategyParams(ctx)
	if err != nil || len(rows) != 1 || rows[0].Params != `{"rsi_period":21}` {
		t.Fatalf("params=%+v err=%v", rows, err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	database := openTest(t)
	ctx := context.Background()
	boom := context.Canceled
	err := database.WithTx(ctx, func(q *Queries) error {
		if err := q.SetState(ctx, "k", "v"); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if _, err := database.Queries().GetState(ctx, "k"); err != ErrNotFound {
		t.Fatalf("state should be rolled back, got %v", err)
	}
}
