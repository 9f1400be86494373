package backtest

import (
	"math"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// TotalReturn is final/initial - 1.
func TotalReturn(curve []float64, initial float64) float64 {
	if len(curve) == 0 || initial == 0 {
		return 0
	}
	return curve[len(curve)-1]/initial - 1
}

// MaxDrawdown is the largest drop of cumulative return (equity/initial - 1)
// below its running peak.
func MaxDrawdown(curve []float64, initial float64) float64 {
	if len(curve) == 0 || initial == 0 {
		return 0
	}
	peak := curve[0]/initial - 1
	maxDD := 0.0
	for _, eq := range curve {
		cum := eq/initial - 1
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// StepReturns is the pct change of each point against the previous one; the
// first step is 0.
func StepReturns(curve []float64) []float64 {
	out := make([]float64, len(curve))
	for i := 1; i < len(curve); i++ {
		if prev := curve[i-1]; prev != 0 {
			out[i] = (curve[i] - prev) / prev
		}
	}
	return out
}

// Sharpe annualises mean/std of step returns with sqrt(252 x bars per day).
// A zero population std gives 0.
func Sharpe(returns []float64, interval string) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := computeMean(returns)
	std := computeStddev(returns, mean)
	if std == 0 {
		return 0
	}
	perDay := 24 * 60 / float64(market.IntervalMinutes(interval))
	return mean / (std + 1e-9) * math.Sqrt(252*perDay)
}

func computeMean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// population standard deviation
func computeStddev(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
