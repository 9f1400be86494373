package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Synthetic generates a random-walk bar series for local development and as a
// fallback when no exchange is reachable. A fixed Seed makes output repeatable.
type Synthetic struct {
	StartPrice float64
	Seed       int64
	Now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic returns a generator anchored at start (50000 when zero).
func NewSynthetic(start float64, seed int64) *Synthetic {
	if start <= 0 {
		start = 50000
	}
	return &Synthetic{StartPrice: start, Seed: seed}
}

// FetchBars implements Source. The last bar ends at Now().
func (s *Synthetic) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrNoBars
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.Seed))
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	step := IntervalDuration(interval)

	bars := make([]Bar, limit)
	price := s.StartPrice
	for i := 0; i < limit; i++ {
		price += s.rng.NormFloat64()
		bars[i] = Bar{
			Time:   now.Add(-step * time.Duration(limit-1-i)),
			Open:   price + s.rng.NormFloat64()*5,
			High:   price + math.Abs(s.rng.NormFloat64()*10),
			Low:    price - math.Abs(s.rng.NormFloat64()*10),
			Close:  price,
			Volume: math.Abs(100 + s.rng.NormFloat64()*50),
		}
	}
	return bars, nil
}

// Fallback tries Primary first and serves from Secondary when Primary errors
// or returns nothing.
type Fallback struct {
	Primary   Source
	Secondary Source
	OnError   func(err error)
}

// FetchBars implements Source.
func (f *Fallback) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error) {
	if f.Primary != nil {
		bars, err := f.Primary.FetchBars(ctx, symbol, interval, limit)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err == nil {
			err = ErrNoBars
		}
		if f.OnError != nil {
			f.OnError(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if f.Secondary == nil {
		return nil, ErrNoBars
	}
	return f.Secondary.FetchBars(ctx, symbol, interval, limit)
}
