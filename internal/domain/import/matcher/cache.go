package matcher

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/catalog-importer/internal/domain/catalog"
)

// MemoryCache is a process-local MatchCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[catalog.MatchKey]catalog.CachedMatch
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[uuid.UUID]map[catalog.MatchKey]catalog.CachedMatch)}
}

func (c *MemoryCache) Lookup(_ context.Context, owner uuid.UUID, key catalog.MatchKey) (*catalog.CachedMatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.entries[owner][key]; ok {
		return &m, nil
	}
	return nil, nil
}

func (c *MemoryCache) Save(_ context.Context, owner uuid.UUID, key catalog.MatchKey, match catalog.CachedMatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[owner] == nil {
		c.entries[owner] = make(map[catalog.MatchKey]catalog.CachedMatch)
	}
	c.entries[owner][key] = match
	return nil
}
