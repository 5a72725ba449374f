package postcodes

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds an upstream lookup shared by several callers.
const sharedLookupTimeout = 10 * time.Second

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache. Concurrent
// misses for the same postcode share one upstream call.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, postcode string) (domain.Location, error) {
	key := domain.NormalizePostcode(postcode)
	if loc, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return loc, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	// The shared lookup outlives any single caller; each caller only stops
	// waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		loc, err := c.inner.Geocode(lookupCtx, key)
		if err != nil {
			return domain.Location{}, err
		}
		// Only cache resolved locations so failed lookups can be retried.
		if loc.Postcode != "" {
			c.cache.put(key, loc)
		}
		return loc, nil
	})
	select {
	case <-ctx.Done():
		return domain.Location{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Location{}, res.Err
		}
		return res.Val.(domain.Location), nil
	}
}

// lruCache is a simple thread-safe LRU cache of locations.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Location
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Location{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
