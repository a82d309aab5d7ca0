package serving

import (
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/YuminosukeSato/gembaguard/artifact"
)

// DefaultCacheTTL is how long a loaded bundle stays cached.
const DefaultCacheTTL = 10 * time.Minute

// BundleCache keeps loaded bundles by artifact directory. Concurrent loads
// of the same directory share one read.
type BundleCache struct {
	items *cache.Cache
	group singleflight.Group
	load  func(dir string) (*artifact.Bundle, error)
}

// NewBundleCache creates a cache whose entries expire after ttl. A ttl of
// zero or less keeps entries until Invalidate.
func NewBundleCache(ttl time.Duration) *BundleCache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := ttl
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &BundleCache{
		items: cache.New(ttl, cleanup),
		load:  artifact.Load,
	}
}

// Get returns the bundle of dir, loading it on a miss. Load errors are not cached.
func (c *BundleCache) Get(dir string) (*artifact.Bundle, error) {
	key := cacheKey(dir)
	if b, ok := c.items.Get(key); ok {
		return b.(*artifact.Bundle), nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		b, err := c.load(dir)
		if err != nil {
			return nil, err
		}
		c.items.SetDefault(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*artifact.Bundle), nil
}

// Invalidate drops the cached bundle of dir, typically after retraining.
func (c *BundleCache) Invalidate(dir string) {
	c.items.Delete(cacheKey(dir))
}

// Len returns the number of cached bundles.
func (c *BundleCache) Len() int { return c.items.ItemCount() }

func cacheKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
