// Package metricscache memoizes derived metrics until the next store insert.
package metricscache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long an entry survives without an invalidation.
const DefaultTTL = 30 * time.Second

// Stats reports cache effectiveness.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
}

// Cache holds computed values keyed by name.
//
// Every Invalidate bumps an epoch. A computation records the epoch it started
// in and only stores its result if no invalidation happened meanwhile, so a
// value derived from a pre-insert snapshot is never cached after the insert.
type Cache struct {
	// mu orders Invalidate against the epoch check and store of a result.
	mu    sync.RWMutex
	epoch uint64

	items *cache.Cache
	group singleflight.Group
	ttl   time.Duration

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

// New creates a Cache. A ttl of zero or less uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// Expired entries are dropped lazily on Get; no janitor goroutine.
	return &Cache{
		items: cache.New(ttl, 0),
		ttl:   ttl,
	}
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Invalidate drops every entry. In-flight computations will not store their results.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.epoch++
	c.items.Flush()
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       c.items.ItemCount(),
	}
}

func (c *Cache) lookup(key string) (any, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items.Get(key)
	return v, c.epoch, ok
}

func (c *Cache) store(key string, epoch uint64, v any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.items.Set(key, v, ttl)
	}
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result for ttl (DefaultTTL when ttl <= 0). Concurrent callers that miss
// on the same key within one epoch share a single computation. Errors are
// returned to every waiting caller and are not cached.
func GetOrCompute[V any](c *Cache, key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	cached, epoch, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
		return cached.(V), nil
	}
	c.misses.Add(1)

	if ttl <= 0 {
		ttl = c.ttl
	}

	flightKey := strconv.FormatUint(epoch, 10) + "/" + key

	res, err, _ := c.group.Do(flightKey, func() (any, error) {
		// A caller that queued behind a finished flight may find the value stored.
		if v, current, ok := c.lookup(key); ok && current == epoch {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.store(key, epoch, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}
