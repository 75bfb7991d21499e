package resultcache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hyperjump/nutrirag/internal/models"
)

// DefaultCapacity bounds MemoryCache when no capacity is given.
const DefaultCapacity = 1024

// MemoryCache is an in-process LRU. It does not survive restarts.
type MemoryCache struct {
	cache *lru.Cache[string, []models.Match]
}

// NewMemoryCache returns an LRU holding at most capacity queries.
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, []models.Match](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: c}, nil
}

func (c *MemoryCache) Lookup(_ context.Context, key string) ([]models.Match, bool, error) {
	matches, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cloneMatches(matches), true, nil
}

func (c *MemoryCache) Store(_ context.Context, key string, matches []models.Match) error {
	if matches == nil {
		matches = []models.Match{}
	}
	c.cache.Add(key, cloneMatches(matches))
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.cache.Purge()
	return nil
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	return c.cache.Len(), nil
}

func (c *MemoryCache) Close() error {
	return nil
}
