package strategy

import (
	"fmt"

	"github.com/digitalinkpact/cryptopiggy/internal/indicators"
)

// RSIStrategy buys oversold and sells overbought.
type RSIStrategy struct {
	base
}

const NameRSI = "rsi"

func NewRSI() *RSIStrategy {
	return &RSIStrategy{base{params: Params{
		"rsi_period":   14,
		"oversold":     30.0,
		"overbought":   70.0,
		ParamTimeframe: "1h",
		ParamUseML:     false,
	}}}
}

func (s *RSIStrategy) Name() string { return NameRSI }

func (s *RSIStrategy) SetParams(p Params) error {
	next := s.merge(p)
	if err := positive("rsi_period", next.Int("rsi_period", 14)); err != nil {
		return err
	}
	lo, hi := next.Float("oversold", 30), next.Float("overbought", 70)
	if lo <= 0 || hi >= 100 || lo >= hi {
		return fmt.Errorf("invalid thresholds: oversold=%v overbought=%v", lo, hi)
	}
	s.params = next
	return nil
}

func (s *RSIStrategy) Space() []Range {
	return []Range{
		{Name: "rsi_period", Min: 5, Max: 30, Int: true},
		{Name: "oversold", Min: 15, Max: 40},
		{Name: "overbought", Min: 60, Max: 85},
	}
}

func (s *RSIStrategy) PopulateIndicators(f *Frame) {
	f.Columns["rsi"] = indicators.RSISeries(f.Close, s.params.Int("rsi_period", 14))
}

func (s *RSIStrategy) PopulateEntry(f *Frame) {
	lo := s.params.Float("oversold", 30)
	for i, v := range f.Col("rsi") {
		f.Entry[i] = valid(v) && v < lo
	}
}

func (s *RSIStrategy) PopulateExit(f *Frame) {
	hi := s.params.Float("overbought", 70)
	for i, v := range f.Col("rsi") {
		f.Exit[i] = valid(v) && v > hi
	}
}
