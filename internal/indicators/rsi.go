package indicators

import "math"

// RSI returns the latest Wilder RSI of values, or 0 when there is not enough
// data.
func RSI(values []float64, period int) float64 {
	s := RSISeries(values, period)
	if len(s) == 0 || math.IsNaN(s[len(s)-1]) {
		return 0
	}
	return s[len(s)-1]
}

// RSISeries computes the Relative Strength Index with Wilder smoothing: the
// first average is a plain mean of period changes, later ones are
// (prev*(period-1) + current) / period. Entries before index period are NaN.
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	n := float64(period)
	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
