package features

import (
	"context"
	"image"
	"os"
	"sync"

	"go.uber.org/atomic"
)

type cacheKey struct {
	path    string
	modTime int64
	size    int64
}

// Cache wraps an Extractor and remembers the descriptors of reference files. An entry is
// keyed by path, modification time and size, so a file rewritten in place is extracted
// again. Failed extractions are not remembered. In-memory frames are never cached.
type Cache struct {
	extractor Extractor

	mu      sync.RWMutex
	entries map[cacheKey]*DescriptorSet

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns a cache in front of extractor.
func NewCache(extractor Extractor) *Cache {
	return &Cache{extractor: extractor, entries: map[cacheKey]*DescriptorSet{}}
}

// Extract passes the frame through to the wrapped extractor.
func (c *Cache) Extract(ctx context.Context, img image.Image) (*DescriptorSet, error) {
	return c.extractor.Extract(ctx, img)
}

// ExtractFile returns the cached descriptors of path, extracting them on a miss.
func (c *Cache) ExtractFile(ctx context.Context, path string) (*DescriptorSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return c.extractor.ExtractFile(ctx, path)
	}
	key := cacheKey{path: path, modTime: info.ModTime().UnixNano(), size: info.Size()}

	c.mu.RLock()
	set, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Inc()
		return set, nil
	}

	c.misses.Inc()
	set, err = c.extractor.ExtractFile(ctx, path)
	if err != nil {
		return set, err
	}
	c.mu.Lock()
	c.entries[key] = set
	c.mu.Unlock()
	return set, nil
}

// Reset drops every cached entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = map[cacheKey]*DescriptorSet{}
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
