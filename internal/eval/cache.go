package eval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes evaluations by (canonical position, settings fingerprint).
// Concurrent requests for one key share a single computation, and the first
// stored result for a key is never replaced.
type Cache struct {
	mu     sync.RWMutex
	mem    map[Key]Result
	store  Store // optional
	flight singleflight.Group
	log    zerolog.Logger

	hits    int64
	misses  int64
	shared  int64
	corrupt int64
}

// NewCache creates a cache. store may be nil for a memory-only cache.
func NewCache(store Store, log zerolog.Logger) *Cache {
	return &Cache{
		mem:   make(map[Key]Result),
		store: store,
		log:   log,
	}
}

// CacheStats holds cache counters.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Shared  int64 `json:"shared"`
	Corrupt int64 `json:"corrupt"`
}

// Stats returns the current counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.mem)
	c.mu.RUnlock()
	return CacheStats{
		Entries: n,
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Shared:  atomic.LoadInt64(&c.shared),
		Corrupt: atomic.LoadInt64(&c.corrupt),
	}
}

// Lookup returns a cached result without computing.
func (c *Cache) Lookup(key Key) (Result, bool) {
	c.mu.RLock()
	r, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return r, true
	}
	if c.store == nil {
		return Result{}, false
	}
	r, ok, err := c.store.Get(key)
	if err != nil {
		if errors.Is(err, ErrCacheCorruption) {
			atomic.AddInt64(&c.corrupt, 1)
			cacheLookups.WithLabelValues("corrupt").Inc()
			c.log.Warn().Err(err).Str("key", key.String()).Msg("discarding corrupt cache entry")
		} else {
			c.log.Warn().Err(err).Str("key", key.String()).Msg("cache store read failed")
		}
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	return c.keep(key, r), true
}

// keep records r in memory unless a result is already there, and returns
// the one that stays.
func (c *Cache) keep(key Key, r Result) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.mem[key]; ok {
		return prev
	}
	c.mem[key] = r
	return r
}

// GetOrCompute returns the cached result for key, calling compute at most
// once across concurrent callers. Failed or cancelled computations are not
// stored.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (Result, error)) (Result, bool, error) {
	if r, ok := c.Lookup(key); ok {
		atomic.AddInt64(&c.hits, 1)
		cacheLookups.WithLabelValues("hit").Inc()
		return r, true, nil
	}

	for {
		v, err, shared := c.flight.Do(key.String(), func() (interface{}, error) {
			if r, ok := c.Lookup(key); ok {
				return r, nil
			}
			atomic.AddInt64(&c.misses, 1)
			cacheLookups.WithLabelValues("miss").Inc()
			r, err := compute(ctx)
			if err != nil {
				return Result{}, err
			}
			return c.put(key, canonicalResult(r)), nil
		})
		if err != nil {
			// Another caller's cancellation must not fail this one.
			if shared && isContextErr(err) && ctx.Err() == nil {
				continue
			}
			return Result{}, false, err
		}
		if shared {
			atomic.AddInt64(&c.shared, 1)
			cacheLookups.WithLabelValues("shared").Inc()
		}
		return v.(Result), false, nil
	}
}

// put persists then remembers r, deferring to any earlier writer.
func (c *Cache) put(key Key, r Result) Result {
	c.mu.RLock()
	prev, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return prev
	}
	if c.store != nil {
		stored, err := c.store.PutIfAbsent(key, r)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key.String()).Msg("cache store write failed")
		} else {
			r = canonicalResult(stored)
		}
	}
	return c.keep(key, r)
}

// canonicalResult normalizes empty slices so memory and persisted copies
// compare equal.
func canonicalResult(r Result) Result {
	if len(r.PV) == 0 {
		r.PV = nil
	}
	if len(r.Alternatives) == 0 {
		r.Alternatives = nil
	}
	return r
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
