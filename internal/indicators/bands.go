package indicators

import "math"

// BollingerSeries returns the middle, upper and lower bands: an SMA of period
// values plus/minus k population standard deviations. Warm-up entries are NaN.
func BollingerSeries(values []float64, period int, k float64) (mid, upper, lower []float64) {
	mid = SMASeries(values, period)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		if math.IsNaN(mid[i]) {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		variance := 0.0
		for _, v := range values[i-period+1 : i+1] {
			d := v - mid[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mid[i] + k*sd
		lower[i] = mid[i] - k*sd
	}
	return mid, upper, lower
}
