package strategy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalinkpact/cryptopiggy/pkg/market"
)

func barsOf(closes ...float64) []market.Bar {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

func TestSMACrossoverSignals(t *testing.T) {
	s := NewSMACrossover()
	require.NoError(t, s.SetParams(Params{"short_window": 2, "long_window": 3}))

	f := Run(s, barsOf(10, 10, 10, 9, 8, 12, 14, 13, 9, 7))
	// short crosses above long at index 5, below at index 8.
	assert.Equal(t, []int{5}, indexes(f.Entry))
	assert.Equal(t, []int{3, 8}, indexes(f.Exit))
}

func indexes(b []bool) []int {
	var out []int
	for i, v := range b {
		if v {
			out = append(out, i)
		}
	}
	return out
}

func TestSMACrossoverRejectsBadWindows(t *testing.T) {
	s := NewSMACrossover()
	assert.Error(t, s.SetParams(Params{"short_window": 30, "long_window": 10}))
	assert.Error(t, s.SetParams(Params{"short_window": 0}))
	assert.Equal(t, 10, s.Params().Int("short_window", 0))
}

func TestRSIStrategySignals(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 81+float64(i)*2)
	}
	f := Run(NewRSI(), barsOf(closes...))
	entry, exit := indexes(f.Entry), indexes(f.Exit)
	require.NotEmpty(t, entry)
	require.NotEmpty(t, exit)
	assert.Equal(t, 14, entry[0])
	assert.Greater(t, exit[0], 20)
	for i := 0; i < 14; i++ {
		assert.False(t, f.Entry[i] || f.Exit[i], "warm-up bar %d signalled", i)
	}
}

func TestBollingerSignals(t *testing.T) {
	s := NewBollinger()
	require.NoError(t, s.SetParams(Params{"period": 5, "num_std": 1.5}))
	f := Run(s, barsOf(10, 10, 10, 10, 10, 10, 5, 10, 10, 10, 10, 16))
	assert.True(t, f.Entry[6])
	assert.True(t, f.Exit[11])
}

func TestParamsCoercion(t *testing.T) {
	p := Params{"a": "12", "b": 3, "c": "true", "d": 2.5}
	assert.Equal(t, 12, p.Int("a", 0))
	assert.Equal(t, 3.0, p.Float("b", 0))
	assert.True(t, p.Bool("c", false))
	assert.Equal(t, 2, p.Int("d", 0))
	assert.Equal(t, 7, p.Int("missing", 7))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{NameBollinger, NameRSI, NameSMACrossover}, r.Names())
	assert.Equal(t, NameSMACrossover, r.Active().Name())

	require.NoError(t, r.SetActive(NameRSI))
	assert.Equal(t, NameRSI, r.ActiveName())

	var unknown ErrUnknown
	assert.ErrorAs(t, r.SetActive("lstm"), &unknown)

	require.NoError(t, r.Configure(NameRSI, Params{"rsi_period": 21}))
	fresh, err := r.Fresh(NameRSI)
	require.NoError(t, err)
	assert.Equal(t, 21, fresh.Params().Int("rsi_period", 0))
	require.NoError(t, fresh.SetParams(Params{"rsi_period": 7}))
	cur, _ := r.Get(NameRSI)
	assert.Equal(t, 21, cur.Params().Int("rsi_period", 0))
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "strategies.yaml")
	r := NewRegistry()
	require.NoError(t, r.Configure(NameSMACrossover, Params{"short_window": 5, "long_window": 20}))
	require.NoError(t, r.SetActive(NameBollinger))
	require.NoError(t, SaveConfig(path, Snapshot(r, "BTC/USDT")))

	file, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, NameBollinger, file.Active)
	assert.Equal(t, "BTC/USDT", file.Symbol)

	other := NewRegistry()
	require.NoError(t, Apply(other, file))
	assert.Equal(t, NameBollinger, other.ActiveName())
	s, _ := other.Get(NameSMACrossover)
	assert.Equal(t, 5, s.Params().Int("short_window", 0))
}
