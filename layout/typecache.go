package layout

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultTypeCacheSize is used when a non-positive size is requested.
const DefaultTypeCacheSize = 4096

// TypeResolver answers the main type of the asset stored at path.
type TypeResolver interface {
	MainAssetType(path string) string
}

// TypeCache memoizes main-asset-type lookups by path. Entries belong to one
// generation, normally the settings version; moving to a new generation drops
// everything cached so far.
type TypeCache struct {
	mu         sync.Mutex
	cache      *lru.Cache
	generation int
}

// NewTypeCache returns a cache holding at most size paths.
func NewTypeCache(size int) (*TypeCache, error) {
	if size <= 0 {
		size = DefaultTypeCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating type cache: %w", err)
	}
	return &TypeCache{cache: c}, nil
}

// Stamp moves the cache to generation, purging it when the generation changes.
func (c *TypeCache) Stamp(generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		c.cache.Purge()
		c.generation = generation
	}
}

// Generation returns the current generation.
func (c *TypeCache) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate drops every cached entry.
func (c *TypeCache) Invalidate() {
	c.cache.Purge()
}

// Len returns the number of cached paths.
func (c *TypeCache) Len() int {
	return c.cache.Len()
}

// Lookup returns the main type for path, asking r on a miss.
func (c *TypeCache) Lookup(r TypeResolver, path string) string {
	if path == "" || r == nil {
		return ""
	}
	if v, ok := c.cache.Get(path); ok {
		return v.(string)
	}
	t := r.MainAssetType(path)
	c.cache.Add(path, t)
	return t
}
