package naturallanguage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache defaults. The underlying resources never change at runtime so
// eviction only costs a rebuild.
const (
	defaultBundleCacheSize    = 5
	defaultBundleCacheIdleTTL = time.Hour
)

// bundleCache is a bounded loading cache of bundles with access-based expiry.
// Concurrent misses for the same coordinates share one load.
type bundleCache struct {
	lru   *expirable.LRU[Coordinates, Bundle]
	group singleflight.Group
	load  func(ctx context.Context, c Coordinates) (Bundle, error)
}

func newBundleCache(size int, idle time.Duration, load func(context.Context, Coordinates) (Bundle, error)) *bundleCache {
	if size <= 0 {
		size = defaultBundleCacheSize
	}
	if idle <= 0 {
		idle = defaultBundleCacheIdleTTL
	}
	return &bundleCache{
		lru:  expirable.NewLRU[Coordinates, Bundle](size, nil, idle),
		load: load,
	}
}

// get returns the cached bundle for c, loading it on a miss. hit reports
// whether the value came from the cache.
func (c *bundleCache) get(ctx context.Context, coords Coordinates) (b Bundle, hit bool, err error) {
	if b, ok := c.lru.Get(coords); ok {
		// Re-adding renews the expiry so idle time counts from the last access.
		c.lru.Add(coords, b)
		return b, true, nil
	}

	v, err, _ := c.group.Do(coords.Code(), func() (any, error) {
		if b, ok := c.lru.Peek(coords); ok {
			return b, nil
		}
		b, err := c.load(ctx, coords)
		if err != nil {
			return nil, err
		}
		c.lru.Add(coords, b)
		return b, nil
	})
	if err != nil {
		return Bundle{}, false, err
	}
	return v.(Bundle), false, nil
}

func (c *bundleCache) len() int {
	return c.lru.Len()
}

func (c *bundleCache) purge() {
	c.lru.Purge()
}
