package common

import (
	"context"
	"sync"
	"time"
)

// ServerClock keeps the offset between local time and the exchange clock so
// signed requests carry a timestamp inside the venue's receive window.
type ServerClock struct {
	fetch        func(ctx context.Context) (int64, error)
	offset       int64 // milliseconds offset (server - local)
	lastAttempt  time.Time
	syncInterval time.Duration
	mu           sync.RWMutex
}

// NewServerClock syncs through fetch, which returns server time in ms.
func NewServerClock(fetch func(ctx context.Context) (int64, error), interval time.Duration) *ServerClock {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &ServerClock{fetch: fetch, syncInterval: interval}
}

// Sync measures the offset assuming symmetric network latency.
func (sc *ServerClock) Sync(ctx context.Context) error {
	sc.mu.Lock()
	sc.lastAttempt = time.Now()
	sc.mu.Unlock()

	localBefore := time.Now().UnixMilli()
	serverTime, err := sc.fetch(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()
	localTime := localBefore + (localAfter-localBefore)/2

	sc.mu.Lock()
	sc.offset = serverTime - localTime
	sc.mu.Unlock()
	return nil
}

// Stale reports whether the last sync attempt is older than the interval.
func (sc *ServerClock) Stale() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return time.Since(sc.lastAttempt) >= sc.syncInterval
}

// Invalidate forces the next Stale() to report true.
func (sc *ServerClock) Invalidate() {
	sc.mu.Lock()
	sc.lastAttempt = time.Time{}
	sc.mu.Unlock()
}

// Now returns current time in ms adjusted for server offset.
func (sc *ServerClock) Now() int64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return time.Now().UnixMilli() + sc.offset
}

// Offset returns the current time offset in milliseconds.
func (sc *ServerClock) Offset() int64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.offset
}
