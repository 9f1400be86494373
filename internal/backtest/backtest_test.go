package backtest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalinkpact/cryptopiggy/internal/predict"
	"github.com/digitalinkpact/cryptopiggy/internal/strategy"
	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

func barsOf(closes ...float64) []market.Bar {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func crossover(t *testing.T) strategy.Strategy {
	s := strategy.NewSMACrossover()
	require.NoError(t, s.SetParams(strategy.Params{"short_window": 2, "long_window": 3}))
	return s
}

func TestRunRoundTrip(t *testing.T) {
	bars := barsOf(10, 10, 10, 9, 8, 12, 14, 13, 9, 7)
	cfg := Config{InitialCash: 10000, Alloc: 0.5, MinTradeUSD: 2, Interval: "1h"}

	res, err := Run(context.Background(), crossover(t), bars, cfg, nil)
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, common.SideBuy, res.Fills[0].Side)
	assert.Equal(t, 5, res.Fills[0].Index)
	assert.Equal(t, common.SideSell, res.Fills[1].Side)
	assert.Equal(t, 8, res.Fills[1].Index)
	assert.Equal(t, 1, res.Trades())

	require.Len(t, res.EquityCurve, len(bars))
	assert.InDelta(t, 10833.33, res.EquityCurve[6], 0.01)
	assert.InDelta(t, 8750, res.FinalEquity(), 1e-6)
	assert.InDelta(t, -0.125, res.TotalReturn, 1e-9)
	assert.InDelta(t, 0.208333, res.MaxDrawdown, 1e-6)
}

func TestRunSkipsEntriesBelowMinimum(t *testing.T) {
	bars := barsOf(10, 10, 10, 9, 8, 12, 14, 13, 9, 7)
	cfg := Config{InitialCash: 100, Alloc: 0.01, MinTradeUSD: 2}
	res, err := Run(context.Background(), crossover(t), bars, cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Zero(t, res.TotalReturn)
	assert.Zero(t, res.Sharpe)
}

func TestRunPredictorGatesEntries(t *testing.T) {
	bars := barsOf(10, 10, 10, 9, 8, 12, 14, 13, 9, 7)
	never := predict.Func(func(_ context.Context, b []market.Bar) ([]bool, error) {
		return make([]bool, len(b)), nil
	})
	cfg := Config{InitialCash: 10000, Alloc: 0.5, MinTradeUSD: 2}

	res, err := Run(context.Background(), crossover(t), bars, cfg, never)
	require.NoError(t, err)
	assert.Len(t, res.Fills, 2, "predictor ignored without UseML")

	cfg.UseML = true
	res, err = Run(context.Background(), crossover(t), bars, cfg, never)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
}

func TestRunDeterministic(t *testing.T) {
	bars, err := market.NewSynthetic(50000, 42).FetchBars(context.Background(), "BTC/USDT", "1h", 400)
	require.NoError(t, err)
	cfg := Config{InitialCash: 10000, Alloc: 0.01, MinTradeUSD: 2, Interval: "1h"}

	a, err := Run(context.Background(), strategy.NewRSI(), bars, cfg, nil)
	require.NoError(t, err)
	b, err := Run(context.Background(), strategy.NewRSI(), bars, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunNoBars(t *testing.T) {
	_, err := Run(context.Background(), strategy.NewRSI(), nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{0, 0, 0}, "1h"))
	assert.InDelta(t, 19.4422, Sharpe([]float64{0, 0.01, 0.02}, "1d"), 1e-3)
	// hourly annualises with sqrt(252*24)
	assert.InDelta(t, 19.4422*4.898979, Sharpe([]float64{0, 0.01, 0.02}, "1h"), 1e-2)
	assert.Equal(t, Sharpe([]float64{0, 0.01, 0.02}, "1h"), Sharpe([]float64{0, 0.01, 0.02}, "weird"))
}

func TestStepReturnsAndDrawdown(t *testing.T) {
	curve := []float64{100, 110, 99, 120}
	r := StepReturns(curve)
	assert.Equal(t, 0.0, r[0])
	assert.InDelta(t, 0.1, r[1], 1e-12)
	assert.InDelta(t, -0.1, r[2], 1e-12)
	assert.InDelta(t, 0.11, MaxDrawdown(curve, 100), 1e-12)
	assert.InDelta(t, 0.2, TotalReturn(curve, 100), 1e-12)
}

func TestOptimizeSeeded(t *testing.T) {
	bars, err := market.NewSynthetic(50000, 7).FetchBars(context.Background(), "BTC/USDT", "1h", 300)
	require.NoError(t, err)
	cfg := OptimizeConfig{Trials: 8, Seed: 99, Run: Config{Alloc: 0.5, MinTradeUSD: 2}}

	s1 := strategy.NewSMACrossover()
	o1, err := Optimize(context.Background(), s1, bars, cfg, nil)
	require.NoError(t, err)
	s2 := strategy.NewSMACrossover()
	o2, err := Optimize(context.Background(), s2, bars, cfg, nil)
	require.NoError(t, err)

	require.NotNil(t, o1.Best)
	assert.Equal(t, o1.Best, o2.Best)
	assert.Equal(t, o1.BestScore, o2.BestScore)
	assert.Len(t, o1.Trials, 8)
	assert.Equal(t, o1.Best.Int("short_window", 0), s1.Params().Int("short_window", 0))

	for _, tr := range o1.Trials {
		if tr.Err == nil {
			assert.LessOrEqual(t, tr.Score, o1.BestScore)
		}
	}
}

func TestOptimizeRestoresOnNoValidTrial(t *testing.T) {
	bars := barsOf(1, 2, 3, 4, 5)
	s := strategy.NewSMACrossover()
	space := []strategy.Range{{Name: "short_window", Min: 40, Max: 50, Int: true}}
	o, err := Optimize(context.Background(), s, bars, OptimizeConfig{Trials: 3, Space: space}, nil)
	require.NoError(t, err)
	assert.Nil(t, o.Best)
	assert.Equal(t, 10, s.Params().Int("short_window", 0))
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	WriteReport(&buf, "rsi", &Result{TotalReturn: 0.05, EquityCurve: []float64{10500}, Interval: "1h", Bars: 1})
	out := buf.String()
	assert.Contains(t, out, "Strategy:      rsi")
	assert.Contains(t, out, "Total Return:  5.00%")
	assert.Contains(t, out, "Final Equity:  10500.00")
}
