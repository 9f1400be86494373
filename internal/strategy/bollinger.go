package strategy

import (
	"fmt"

	"github.com/digitalinkpact/cryptopiggy/internal/indicators"
)

// BollingerStrategy buys a close below the lower band and sells a close above
// the upper band.
type BollingerStrategy struct {
	base
}

const NameBollinger = "bollinger"

func NewBollinger() *BollingerStrategy {
	return &BollingerStrategy{base{params: Params{
		"period":       20,
		"num_std":      2.0,
		ParamTimeframe: "1h",
		ParamUseML:     false,
	}}}
}

func (s *BollingerStrategy) Name() string { return NameBollinger }

func (s *BollingerStrategy) SetParams(p Params) error {
	next := s.merge(p)
	if err := positive("period", next.Int("period", 20)); err != nil {
		return err
	}
	if k := next.Float("num_std", 2); k <= 0 {
		return fmt.Errorf("num_std must be positive, got %v", k)
	}
	s.params = next
	return nil
}

func (s *BollingerStrategy) Space() []Range {
	return []Range{
		{Name: "period", Min: 10, Max: 40, Int: true},
		{Name: "num_std", Min: 1.5, Max: 3},
	}
}

func (s *BollingerStrategy) PopulateIndicators(f *Frame) {
	mid, upper, lower := indicators.BollingerSeries(f.Close, s.params.Int("period", 20), s.params.Float("num_std", 2))
	f.Columns["bb_mid"] = mid
	f.Columns["bb_upper"] = upper
	f.Columns["bb_lower"] = lower
}

func (s *BollingerStrategy) PopulateEntry(f *Frame) {
	lower := f.Col("bb_lower")
	for i, c := range f.Close {
		f.Entry[i] = valid(lower[i]) && c < lower[i]
	}
}

func (s *BollingerStrategy) PopulateExit(f *Frame) {
	upper := f.Col("bb_upper")
	for i, c := range f.Close {
		f.Exit[i] = valid(upper[i]) && c > upper[i]
	}
}
