package db

import "time"

// Position is a row of the positions table.
type Position struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	EntryTime  time.Time
}

// Trade is a row of the append-only trades table.
type Trade struct {
	ID          string
	Time        time.Time
	Side        string
	Symbol      string
	AmountUSD   float64
	Qty         float64
	Price       float64
	Live        bool
	OrderID     string
	Status      string
	Path        string
	RealizedPnL float64
}

// StrategyParams holds one strategy's params as a JSON document.
type StrategyParams struct {
	Name      string
	Params    string
	UpdatedAt time.Time
}
