package indicators

import (
	"math"
	"testing"
)

func TestSMASeries(t *testing.T) {
	got := SMASeries([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatalf("warm-up should be NaN: %v", got)
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got[i+2] != w {
			t.Fatalf("SMASeries[%d]=%v, expected %v", i+2, got[i+2], w)
		}
	}
	if SMA([]float64{1, 2, 3, 4, 5}, 3) != 4 {
		t.Fatalf("SMA mismatch")
	}
}

func TestRSISeries(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(i)
	}
	s := RSISeries(up, 14)
	if !math.IsNaN(s[13]) {
		t.Fatalf("expected NaN before period, got %v", s[13])
	}
	if s[14] != 100 || RSI(up, 14) != 100 {
		t.Fatalf("monotonic rise should give 100, got %v", s[14])
	}

	flat := make([]float64, 20)
	if RSI(flat, 14) != 50 {
		t.Fatalf("flat series should give 50")
	}

	mixed := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00}
	got := RSISeries(mixed, 14)
	if math.Abs(got[14]-70.46) > 0.1 {
		t.Fatalf("RSI[14]=%.2f, expected about 70.46", got[14])
	}
	if math.Abs(got[15]-66.25) > 0.1 {
		t.Fatalf("RSI[15]=%.2f, expected about 66.25", got[15])
	}
	if RSI(mixed[:10], 14) != 0 {
		t.Fatalf("short input should give 0")
	}
}

func TestBollingerSeries(t *testing.T) {
	mid, upper, lower := BollingerSeries([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	if !math.IsNaN(upper[6]) {
		t.Fatalf("warm-up should be NaN")
	}
	if mid[7] != 5 || upper[7] != 9 || lower[7] != 1 {
		t.Fatalf("bands=%v/%v/%v, expected 5/9/1", mid[7], upper[7], lower[7])
	}
}
