package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// lruEntry wraps the cached value with its expiry
type lruEntry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// TTLCache is a size-bounded LRU whose entries also expire after ttl.
type TTLCache[K comparable, V any] struct {
	lru    *lru.Cache[K, *lruEntry[V]]
	ttl    time.Duration
	clock  clockwork.Clock
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTTLCache creates a cache holding at most size entries. A nil clock uses real time.
func NewTTLCache[K comparable, V any](size int, ttl time.Duration, clock clockwork.Clock) (*TTLCache[K, V], error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l, err := lru.New[K, *lruEntry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &TTLCache[K, V]{lru: l, ttl: ttl, clock: clock}, nil
}

// Get returns the live value for key. Expired entries are evicted and count as misses.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	if entry, ok := c.lru.Get(key); ok {
		if c.clock.Now().Before(entry.ExpiresAt) {
			c.hits.Add(1)
			return entry.Value, true
		}
		c.lru.Remove(key)
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

func (c *TTLCache[K, V]) Add(key K, value V) {
	c.lru.Add(key, &lruEntry[V]{
		Value:     value,
		ExpiresAt: c.clock.Now().Add(c.ttl),
	})
}

func (c *TTLCache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}

// Stats returns hit and miss counters
func (c *TTLCache[K, V]) Stats() map[string]uint64 {
	return map[string]uint64{
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
	}
}

// Clear removes all entries
func (c *TTLCache[K, V]) Clear() {
	c.lru.Purge()
}
