package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeightTracker(t *testing.T) {
	wt := NewWeightTracker(1000, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	wt.now = func() time.Time { return now }
	wt.lastReset = now

	assert.InDelta(t, 50.0, wt.UpdateFromHeader("500"), 1e-9)
	assert.False(t, wt.Saturated())
	wt.UpdateFromHeader("bogus")
	used, _, _ := wt.Usage()
	assert.Equal(t, 500, used)

	wt.UpdateFromHeader("950")
	assert.True(t, wt.Saturated())

	now = now.Add(2 * time.Minute)
	assert.False(t, wt.Saturated(), "an old window counts as empty")
}

func TestServerClock(t *testing.T) {
	server := time.Now().UnixMilli() + 5000
	sc := NewServerClock(func(context.Context) (int64, error) { return server, nil }, time.Hour)
	assert.True(t, sc.Stale())
	assert.NoError(t, sc.Sync(context.Background()))
	assert.False(t, sc.Stale())
	assert.InDelta(t, 5000, sc.Offset(), 100)

	sc.Invalidate()
	assert.True(t, sc.Stale())

	failing := NewServerClock(func(context.Context) (int64, error) { return 0, errors.New("down") }, time.Hour)
	assert.Error(t, failing.Sync(context.Background()))
	assert.False(t, failing.Stale(), "a failed attempt still counts")
	assert.Zero(t, failing.Offset())
}
