// Package geodata loads and caches the remote GeoJSON datasets feeding
// both renderer backends.
//
// The Cache guarantees that each distinct dataset key is fetched at most
// once concurrently (request coalescing) and that a successful result is
// cached for the process lifetime. There is no TTL or eviction beyond the
// explicit Clear operations; in-flight fetches are not cancelable, but a
// cleared in-flight entry does not repopulate the cache when it completes.
package geodata

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"
)

// Fetcher retrieves and parses one dataset by key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string) (*geojson.FeatureCollection, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	return f(ctx, key)
}

// Cache is a de-duplicating, memoizing dataset loader.
type Cache struct {
	fetcher Fetcher

	mu     sync.Mutex
	cached map[string]*geojson.FeatureCollection
	gen    map[string]uint64 // bumped by Clear to detach in-flight results
	group  singleflight.Group

	// missHook, when set, runs between the cache check and joining the
	// flight group. Test seam for the interleavings in between.
	missHook func()
}

// NewCache creates a cache backed by the given fetcher.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		cached:  make(map[string]*geojson.FeatureCollection),
		gen:     make(map[string]uint64),
	}
}

// Get returns the dataset for key, fetching it on first use. Concurrent
// callers for the same key share a single fetch and all receive the same
// result; a fetch error is propagated to every waiter and nothing is
// cached. Subsequent calls after success return the cached collection
// without touching the network.
func (c *Cache) Get(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	c.mu.Lock()
	if fc, ok := c.cached[key]; ok {
		c.mu.Unlock()
		return fc, nil
	}
	c.mu.Unlock()

	if c.missHook != nil {
		c.missHook()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A sibling's fetch may have cached the key between the check
		// above and entering the group; serve that instead of fetching
		// again.
		c.mu.Lock()
		if fc, ok := c.cached[key]; ok {
			c.mu.Unlock()
			return fc, nil
		}
		gen := c.gen[key]
		c.mu.Unlock()

		// The fetch outlives the first caller's context: clearing or
		// canceling does not abort a request already underway.
		fc, err := c.fetcher.Fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen[key] == gen {
			c.cached[key] = fc
		}
		c.mu.Unlock()
		return fc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*geojson.FeatureCollection), nil
}

// Clear evicts the given keys, or every entry when called with none.
// In-flight fetches for cleared keys are not canceled; their eventual
// results are discarded instead of repopulating the cache.
func (c *Cache) Clear(keys ...string) {
	c.mu.Lock()
	if len(keys) == 0 {
		for k := range c.cached {
			keys = append(keys, k)
		}
		for k := range c.gen {
			if _, ok := c.cached[k]; !ok {
				keys = append(keys, k)
			}
		}
	}
	for _, k := range keys {
		delete(c.cached, k)
		c.gen[k]++
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Len returns the number of cached datasets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cached)
}

// PreloadResult reports the outcome of one preload key.
type PreloadResult struct {
	Key string
	Err error
}

// Preload fetches every key in parallel and reports each outcome
// independently; one failed key does not abort its siblings.
func (c *Cache) Preload(ctx context.Context, keys []string) []PreloadResult {
	results := make([]PreloadResult, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, err := c.Get(ctx, key)
			results[i] = PreloadResult{Key: key, Err: err}
		}(i, key)
	}
	wg.Wait()
	return results
}
