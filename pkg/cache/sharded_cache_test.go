package cache

import (
	"testing"
	"time"
)

func TestPricesExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewPrices(2 * time.Second)
	c.Now = func() time.Time { return now }

	c.Set("BTC/USDT", 50000)
	c.Set("ETH/USDT", 0)
	if p, ok := c.Fresh("BTC/USDT"); !ok || p != 50000 {
		t.Fatalf("fresh = %v %v", p, ok)
	}
	if _, ok := c.Fresh("ETH/USDT"); ok {
		t.Fatal("non-positive price was cached")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Fresh("BTC/USDT"); ok {
		t.Fatal("entry should expire at the ttl")
	}
	if n := c.Prune(); n != 1 || c.Len() != 0 {
		t.Fatalf("prune removed %d, %d left", n, c.Len())
	}
}

func TestPricesInvalidate(t *testing.T) {
	c := NewPrices(time.Minute)
	c.Set("BTC/USDT", 1)
	c.Invalidate("BTC/USDT")
	if _, ok := c.Fresh("BTC/USDT"); ok {
		t.Fatal("invalidated entry still fresh")
	}
}

func TestDisabledAndNilCache(t *testing.T) {
	off := NewPrices(0)
	off.Set("BTC/USDT", 1)
	if _, ok := off.Fresh("BTC/USDT"); ok || off.Len() != 0 {
		t.Fatal("zero ttl must not cache")
	}

	var c *Prices
	c.Set("BTC/USDT", 1)
	c.Invalidate("BTC/USDT")
	if _, ok := c.Fresh("BTC/USDT"); ok {
		t.Fatal("nil cache hit")
	}
}
