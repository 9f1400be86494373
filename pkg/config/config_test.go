package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange != "paper" || cfg.ExchangeConfigured() {
		t.Fatalf("default exchange should be paper, got %q", cfg.Exchange)
	}
	if cfg.AllowLive || cfg.DryRun || cfg.BackendEnabled || cfg.RiskPaperLossCheck {
		t.Fatal("safety flags must default off")
	}
	if cfg.PaperPrice != 50000 || cfg.PaperStartingEquity != 10000 {
		t.Fatalf("paper defaults: %v/%v", cfg.PaperPrice, cfg.PaperStartingEquity)
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Fatalf("backend timeout %v", cfg.BackendTimeout)
	}
	if cfg.TickerCacheTTL != 2*time.Second || cfg.ReconcileInterval != 5*time.Minute {
		t.Fatalf("ticker ttl %v reconcile %v", cfg.TickerCacheTTL, cfg.ReconcileInterval)
	}
	if len(cfg.AllowedSymbols) != 2 || cfg.DefaultSymbol != "BTC/USDT" {
		t.Fatalf("symbols %v default %q", cfg.AllowedSymbols, cfg.DefaultSymbol)
	}
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EXCHANGE", "BinanceUS")
	t.Setenv("BINANCE_API_KEY", "legacy-key")
	t.Setenv("EXCHANGE_API_SECRET", "s")
	t.Setenv("ALLOW_LIVE", "1")
	t.Setenv("ALLOWED_SYMBOLS", " sol/usdt , ,btc/usdt")
	t.Setenv("BACKEND_API_URL", "http://backend:9000/")
	t.Setenv("BACKEND_TIMEOUT", "1.5")
	t.Setenv("RISK_MAX_CONSEC_LOSSES", "3")
	t.Setenv("RISK_PAPER_LOSS_CHECK", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange != "binanceus" || !cfg.ExchangeConfigured() {
		t.Fatalf("exchange %q", cfg.Exchange)
	}
	if cfg.ExchangeAPIKey != "legacy-key" || cfg.ExchangeAPISecret != "s" {
		t.Fatal("key fallback not applied")
	}
	if !cfg.AllowLive || !cfg.RiskPaperLossCheck || cfg.RiskMaxConsecLosses != 3 {
		t.Fatalf("flags not parsed: %+v", cfg)
	}
	if len(cfg.AllowedSymbols) != 2 || cfg.AllowedSymbols[0] != "SOL/USDT" || cfg.DefaultSymbol != "SOL/USDT" {
		t.Fatalf("symbols %v", cfg.AllowedSymbols)
	}
	if cfg.BackendURL != "http://backend:9000" || cfg.BackendTimeout != 1500*time.Millisecond {
		t.Fatalf("backend %q %v", cfg.BackendURL, cfg.BackendTimeout)
	}
}

// chdir changes the working directory for the duration of the test,
// like testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
