package backtest

import (
	"context"
	"math"
	"math/rand"

	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// Trial is one sampled parameter set and its score.
type Trial struct {
	Params strategy.Params `json:"params"`
	Score  float64         `json:"score"`
	Err    error           `json:"-"`
}

// Optimization is the outcome of a random search.
type Optimization struct {
	Best      strategy.Params `json:"best"`
	BestScore float64         `json:"best_score"`
	Trials    []Trial         `json:"trials"`
}

// OptimizeConfig controls Optimize. Space defaults to the strategy's own.
type OptimizeConfig struct {
	Trials int
	Seed   int64
	Space  []strategy.Range
	Run    Config
}

// Optimize samples cfg.Trials parameter sets uniformly from the space (ints
// inclusive), backtests each and installs the best by total return on s.
// Invalid samples (e.g. short >= long window) are recorded and skipped. When
// no trial succeeds s keeps its params, Best is nil and BestScore is zero.
func Optimize(ctx context.Context, s strategy.Strategy, bars []market.Bar, cfg OptimizeConfig, p predict.Predictor) (*Optimization, error) {
	if cfg.Trials <= 0 {
		cfg.Trials = 20
	}
	space := cfg.Space
	if len(space) == 0 {
		space = s.Space()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	original := s.Params()

	out := &Optimization{BestScore: math.Inf(-1)}
	for i := 0; i < cfg.Trials; i++ {
		if err := ctx.Err(); err != nil {
			_ = s.SetParams(original)
			return nil, err
		}
		params := sample(rng, space)
		trial := Trial{Params: params}
		if err := s.SetParams(params); err != nil {
			trial.Err = err
			out.Trials = append(out.Trials, trial)
			continue
		}
		res, err := Run(ctx, s, bars, cfg.Run, p)
		if err != nil {
			trial.Err = err
			out.Trials = append(out.Trials, trial)
			continue
		}
		trial.Score = res.TotalReturn
		out.Trials = append(out.Trials, trial)
		if trial.Score > out.BestScore {
			out.BestScore = trial.Score
			out.Best = params
		}
	}

	if out.Best == nil {
		out.BestScore = 0
		_ = s.SetParams(original)
		return out, nil
	}
	if err := s.SetParams(out.Best); err != nil {
		return nil, err
	}
	return out, nil
}

func sample(rng *rand.Rand, space []strategy.Range) strategy.Params {
	p := make(strategy.Params, len(space))
	for _, r := range space {
		if r.Int {
			lo, hi := int(r.Min), int(r.Max)
			p[r.Name] = lo + rng.Intn(hi-lo+1)
			continue
		}
		p[r.Name] = r.Min + rng.Float64()*(r.Max-r.Min)
	}
	return p
}
