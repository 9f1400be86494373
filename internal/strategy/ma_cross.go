package strategy

import (
	"fmt"

	"github.com/digitalinkpact/cryptopiggy/internal/indicators"
)

// SMACrossover enters when the short SMA crosses above the long SMA and
// exits on the opposite cross.
type SMACrossover struct {
	base
}

const NameSMACrossover = "sma_crossover"

// NewSMACrossover returns the strategy with short_window 10 and long_window 30.
func NewSMACrossover() *SMACrossover {
	return &SMACrossover{base{params: Params{
		"short_window": 10,
		"long_window":  30,
		ParamTimeframe: "1h",
		ParamUseML:     false,
	}}}
}

func (s *SMACrossover) Name() string { return NameSMACrossover }

func (s *SMACrossover) SetParams(p Params) error {
	next := s.merge(p)
	short, long := next.Int("short_window", 10), next.Int("long_window", 30)
	if err := positive("short_window", short); err != nil {
		return err
	}
	if err := positive("long_window", long); err != nil {
		return err
	}
	if short >= long {
		return fmt.Errorf("short_window (%d) must be below long_window (%d)", short, long)
	}
	s.params = next
	return nil
}

func (s *SMACrossover) Space() []Range {
	return []Range{
		{Name: "short_window", Min: 3, Max: 20, Int: true},
		{Name: "long_window", Min: 21, Max: 80, Int: true},
	}
}

func (s *SMACrossover) PopulateIndicators(f *Frame) {
	f.Columns["sma_short"] = indicators.SMASeries(f.Close, s.params.Int("short_window", 10))
	f.Columns["sma_long"] = indicators.SMASeries(f.Close, s.params.Int("long_window", 30))
}

func (s *SMACrossover) PopulateEntry(f *Frame) {
	short, long := f.Col("sma_short"), f.Col("sma_long")
	for i := 1; i < f.Len(); i++ {
		if !valid(short[i]) || !valid(long[i]) || !valid(short[i-1]) || !valid(long[i-1]) {
			continue
		}
		f.Entry[i] = short[i] > long[i] && short[i-1] <= long[i-1]
	}
}

func (s *SMACrossover) PopulateExit(f *Frame) {
	short, long := f.Col("sma_short"), f.Col("sma_long")
	for i := 1; i < f.Len(); i++ {
		if !valid(short[i]) || !valid(long[i]) || !valid(short[i-1]) || !valid(long[i-1]) {
			continue
		}
		f.Exit[i] = short[i] < long[i] && short[i-1] >= long[i-1]
	}
}
