package strategy

import (
	"fmt"
	"math"
	"strconv"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

// Params are a strategy's tunable settings. Numeric values may arrive as int,
// float64 or string depending on the source (YAML, JSON, CLI).
type Params map[string]any

// Int returns key as an int or def.
func (p Params) Int(key string, def int) int {
	if f, ok := toFloat(p[key]); ok {
		return int(f)
	}
	return def
}

// Float returns key as a float64 or def.
func (p Params) Float(key string, def float64) float64 {
	if f, ok := toFloat(p[key]); ok {
		return f
	}
	return def
}

// String returns key as a string or def.
func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Bool returns key as a bool or def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Clone copies p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// Range is a hyperopt search dimension.
type Range struct {
	Name string
	Min  float64
	Max  float64
	Int  bool
}

// Frame is a bar series with indicator columns and entry/exit signals.
type Frame struct {
	Bars    []market.Bar
	Close   []float64
	Columns map[string][]float64
	Entry   []bool
	Exit    []bool
}

// NewFrame wraps bars.
func NewFrame(bars []market.Bar) *Frame {
	return &Frame{
		Bars:    bars,
		Close:   market.Closes(bars),
		Columns: make(map[string][]float64),
		Entry:   make([]bool, len(bars)),
		Exit:    make([]bool, len(bars)),
	}
}

// Len is the number of bars.
func (f *Frame) Len() int { return len(f.Bars) }

// Col returns a named column or nil.
func (f *Frame) Col(name string) []float64 { return f.Columns[name] }

// Last returns the entry and exit signals of the latest bar.
func (f *Frame) Last() (entry, exit bool) {
	if f.Len() == 0 {
		return false, false
	}
	return f.Entry[f.Len()-1], f.Exit[f.Len()-1]
}

// Strategy turns bars into entry and exit signals in three passes.
type Strategy interface {
	Name() string
	Params() Params
	SetParams(Params) error
	// Space lists the parameters hyperopt may tune.
	Space() []Range
	PopulateIndicators(f *Frame)
	PopulateEntry(f *Frame)
	PopulateExit(f *Frame)
}

// Run applies all three passes of s to bars.
func Run(s Strategy, bars []market.Bar) *Frame {
	f := NewFrame(bars)
	s.PopulateIndicators(f)
	s.PopulateEntry(f)
	s.PopulateExit(f)
	return f
}

// Common params shared by every strategy.
const (
	ParamTimeframe = "timeframe"
	ParamUseML     = "use_ml"
)

type base struct {
	params Params
}

func (b *base) Params() Params { return b.params.Clone() }

func (b *base) merge(p Params) Params {
	next := b.params.Clone()
	for k, v := range p {
		next[k] = v
	}
	return next
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}

func valid(v float64) bool { return !math.IsNaN(v) }
