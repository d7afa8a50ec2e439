package gridserver

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
)

// CachedSource wraps a GridSource with an in-memory LRU cache. Cached grids
// are shared between callers and must be treated as read-only.
type CachedSource struct {
	inner   domain.GridSource
	metrics *observability.Metrics

	// mu guards cache; it is never held across a fetch.
	mu    sync.Mutex
	cache *lru.Cache
}

// NewCachedSource creates a cache decorator around a grid source.
func NewCachedSource(inner domain.GridSource, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		metrics: metrics,
		cache:   lru.New(maxEntries),
	}
}

func (c *CachedSource) FetchGrid(ctx context.Context, key domain.GridKey) (*grid.Grid, error) {
	k := key.String()
	if g, ok := c.get(k); ok {
		c.metrics.GridCache.WithLabelValues("hit").Inc()
		return g, nil
	}
	c.metrics.GridCache.WithLabelValues("miss").Inc()

	// Not-found and transport errors are not cached so the next request retries.
	g, err := c.inner.FetchGrid(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(k, g)
	c.mu.Unlock()
	return g, nil
}

// Len is the number of cached grids.
func (c *CachedSource) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

func (c *CachedSource) get(key string) (*grid.Grid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*grid.Grid), true
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrGridNotFound)
}
