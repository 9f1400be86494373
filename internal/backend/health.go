package backend

import (
	"context"
	"sync"
	"time"
)

const DefaultHealthTTL = 30 * time.Second

// HealthCache remembers the last health check for ttl.
type HealthCache struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last *HealthStatus
}

func NewHealthCache(client *Client, ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthCache{client: client, ttl: ttl, now: time.Now}
}

// Get returns the cached status, probing when it is stale or force is set.
func (h *HealthCache) Get(ctx context.Context, force bool) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !force && h.last != nil && h.now().Sub(h.last.Checked) < h.ttl {
		return *h.last
	}
	st := h.client.Health(ctx)
	st.Checked = h.now().UTC()
	h.last = &st
	return st
}

// Last returns the most recent status without probing.
func (h *HealthCache) Last() (HealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return HealthStatus{}, false
	}
	return *h.last, true
}

// Cached is a Client whose Health answers from a HealthCache, so frequent
// checks from the bot loop cost one request per ttl.
type Cached struct {
	*Client
	Cache *HealthCache
}

// NewCached wraps client with a cache of ttl.
func NewCached(client *Client, ttl time.Duration) *Cached {
	return &Cached{Client: client, Cache: NewHealthCache(client, ttl)}
}

func (c *Cached) Health(ctx context.Context) HealthStatus {
	return c.Cache.Get(ctx, false)
}

// CheckNow asks the proxy now and refreshes the cache.
func (c *Cached) CheckNow(ctx context.Context) HealthStatus {
	return c.Cache.Get(ctx, true)
}
