package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"classified", &Error{Class: ClassRateLimit, Op: "ticker"}, ClassRateLimit},
		{"wrapped", fmt.Errorf("outer: %w", &Error{Class: ClassAuth}), ClassAuth},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"plain", errors.New("boom"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestSymbols(t *testing.T) {
	assert.Equal(t, "BTCUSDT", VenueSymbol("btc/usdt"))
	base, quote := SplitSymbol("ETH/USDT")
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USDT", quote)

	side, ok := ParseSide(" sell ")
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
	_, ok = ParseSide("hold")
	assert.False(t, ok)
}
