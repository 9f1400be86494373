package common

import (
	"strconv"
	"sync"
	"time"
)

// WeightTracker follows the request weight an exchange reports back in
// response headers (Binance: X-MBX-USED-WEIGHT-1M).
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	now           func() time.Time
	mu            sync.RWMutex
}

// NewWeightTracker creates a tracker for limit weight per resetInterval
// (e.g. 6000 per minute for Binance spot).
func NewWeightTracker(limit int, resetInterval time.Duration) *WeightTracker {
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		now:           time.Now,
	}
}

// UpdateFromHeader records the used weight and returns the usage percentage.
// Unparseable headers are ignored.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) float64 {
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		_, _, pct := wt.Usage()
		return pct
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.now().Sub(wt.lastReset) >= wt.resetInterval {
		wt.lastReset = wt.now()
	}
	wt.usedWeight = weight
	return float64(wt.usedWeight) / float64(wt.limit) * 100
}

// Usage returns the current usage; a window older than resetInterval counts
// as empty.
func (wt *WeightTracker) Usage() (used int, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	if wt.limit <= 0 || wt.now().Sub(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}
	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}

// Saturated is true at 90% usage or more; callers should back off.
func (wt *WeightTracker) Saturated() bool {
	_, _, pct := wt.Usage()
	return pct >= 90
}
