// Package predict supplies the optional model signal that gates strategy
// entries when a strategy runs with use_ml.
package predict

import (
	"context"
	"errors"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// Predictor returns one bullish/not-bullish flag per bar.
type Predictor interface {
	Predict(ctx context.Context, bars []market.Bar) ([]bool, error)
}

// ErrLength is returned when a predictor answers with the wrong number of
// flags.
var ErrLength = errors.New("prediction length mismatch")

// Func adapts a function to Predictor.
type Func func(ctx context.Context, bars []market.Bar) ([]bool, error)

func (f Func) Predict(ctx context.Context, bars []market.Bar) ([]bool, error) { return f(ctx, bars) }

// Drift is a local predictor: a bar is bullish when the close is above the
// close Lookback bars earlier. It is deterministic and needs no model.
type Drift struct {
	Lookback int
}

// NewDrift returns a Drift predictor; lookback <= 0 means 5.
func NewDrift(lookback int) *Drift {
	if lookback <= 0 {
		lookback = 5
	}
	return &Drift{Lookback: lookback}
}

func (d *Drift) Predict(ctx context.Context, bars []market.Bar) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]bool, len(bars))
	for i := d.Lookback; i < len(bars); i++ {
		out[i] = bars[i].Close > bars[i-d.Lookback].Close
	}
	return out, nil
}

// Gate ANDs entry with the predictions. A nil predictor leaves entry
// unchanged.
func Gate(ctx context.Context, p Predictor, bars []market.Bar, entry []bool) ([]bool, error) {
	if p == nil {
		return entry, nil
	}
	preds, err := p.Predict(ctx, bars)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(entry) {
		return nil, ErrLength
	}
	out := make([]bool, len(entry))
	for i := range entry {
		out[i] = entry[i] && preds[i]
	}
	return out, nil
}
