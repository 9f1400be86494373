package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := At(ts)
	for i := 0; i < 100; i++ {
		next := At(ts)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewLength(t *testing.T) {
	assert.Len(t, New(), 26)
}
