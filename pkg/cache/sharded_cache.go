// Package cache holds short-lived ticker prices so repeated lookups within a
// cycle do not each cost an exchange request.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 8

// Prices is a sharded symbol -> price cache whose entries expire after a TTL.
type Prices struct {
	ttl    time.Duration
	shards [numShards]*shard

	// Now is the clock used for expiry.
	Now func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	price float64
	at    time.Time
}

// NewPrices returns a cache keeping prices for ttl. A ttl <= 0 disables it:
// Fresh always misses.
func NewPrices(ttl time.Duration) *Prices {
	c := &Prices{ttl: ttl, Now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *Prices) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price for symbol. Non-positive prices are ignored.
func (c *Prices) Set(symbol string, price float64) {
	if c == nil || c.ttl <= 0 || price <= 0 {
		return
	}
	s := c.shardFor(symbol)
	s.mu.Lock()
	s.items[symbol] = entry{price: price, at: c.Now()}
	s.mu.Unlock()
}

// Fresh returns the cached price when it is younger than the TTL.
func (c *Prices) Fresh(symbol string) (float64, bool) {
	if c == nil || c.ttl <= 0 {
		return 0, false
	}
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok || c.Now().Sub(e.at) >= c.ttl {
		return 0, false
	}
	return e.price, true
}

// Invalidate drops symbol, e.g. after an order moved the market.
func (c *Prices) Invalidate(symbol string) {
	if c == nil {
		return
	}
	s := c.shardFor(symbol)
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (c *Prices) Prune() int {
	if c == nil {
		return 0
	}
	cutoff := c.Now().Add(-c.ttl)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if !e.at.After(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of cached symbols, fresh or not.
func (c *Prices) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
