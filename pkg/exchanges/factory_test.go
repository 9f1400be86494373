package exchanges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	_, err := Open(Options{Venue: "paper"}, nil)
	assert.ErrorIs(t, err, ErrPaperVenue)

	_, err = Open(Options{Venue: "kraken"}, nil)
	assert.Error(t, err)

	s, err := Open(Options{Venue: "BinanceUS", APIKey: "k", APISecret: "s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "binanceus", s.Name())
	assert.True(t, s.Authenticated())

	ro, err := Open(Options{Venue: "binance"}, nil)
	require.NoError(t, err)
	assert.False(t, ro.Authenticated())
}
