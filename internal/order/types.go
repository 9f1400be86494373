package order

import (
	"context"
	"errors"

	"github.com/digitalinkpact/cryptopiggy/internal/backend"
	"github.com/digitalinkpact/cryptopiggy/internal/ledger"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
)

// Path is where an order was executed.
type Path string

const (
	PathPaper    Path = "paper"
	PathExchange Path = "exchange"
	PathBackend  Path = "backend"
)

var (
	// ErrNoPosition rejects a sell of a symbol that is not held.
	ErrNoPosition = ledger.ErrNoPosition
	// ErrNoPrice means no price could be resolved for a live order.
	ErrNoPrice = errors.New("no price available")
	// ErrStateDivergence marks a remote order whose local bookkeeping failed.
	ErrStateDivergence = errors.New("order placed but local state diverged")
	// ErrEquityUnavailable means live equity could not be read.
	ErrEquityUnavailable = errors.New("equity unavailable")
)

// Backend is the subset of the backend proxy client the router uses.
type Backend interface {
	Health(ctx context.Context) backend.HealthStatus
	Balance(ctx context.Context, userID string) (backend.Balance, error)
	PlaceTrade(ctx context.Context, req backend.TradeRequest) (*backend.TradeResult, error)
}

// LiveChecker is a Backend with a health cache that can be bypassed. Safety checks
// go through it so a dead proxy is not reported healthy from the cache.
type LiveChecker interface {
	CheckNow(ctx context.Context) backend.HealthStatus
}

// StateSaver persists bot state after a successful order.
type StateSaver interface {
	Save(ctx context.Context) error
}

// StateSaverFunc adapts a function to StateSaver.
type StateSaverFunc func(ctx context.Context) error

func (f StateSaverFunc) Save(ctx context.Context) error { return f(ctx) }

// Result describes an executed order.
type Result struct {
	Trade    ledger.Trade  `json:"trade"`
	Path     Path          `json:"path"`
	Live     bool          `json:"live"`
	OrderID  string        `json:"order_id,omitempty"`
	Status   string        `json:"status"`
	Decision risk.Decision `json:"decision"`
	// Warning is set when the order went through but something after it
	// failed, e.g. saving state.
	Warning string `json:"warning,omitempty"`
}
