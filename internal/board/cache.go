package board

import (
	"sync"

	"github.com/freeeve/weakscan/internal/position"
)

// Cache memoizes contexts per canonical position for the lifetime of a run.
type Cache struct {
	mu    sync.RWMutex
	byPos map[string]*Context
}

// NewCache creates an empty context cache.
func NewCache() *Cache {
	return &Cache{byPos: make(map[string]*Context)}
}

// Get returns the shared context for pos, building it on first use. When two
// goroutines race, the first stored context wins and both receive it.
func (c *Cache) Get(pos position.Position) (*Context, error) {
	key := pos.Canonical()
	c.mu.RLock()
	ctx, ok := c.byPos[key]
	c.mu.RUnlock()
	if ok {
		return ctx, nil
	}

	built, err := Build(pos)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byPos[key]; ok {
		return existing, nil
	}
	c.byPos[key] = built
	return built, nil
}

// Len returns the number of cached contexts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPos)
}
