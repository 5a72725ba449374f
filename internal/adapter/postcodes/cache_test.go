package postcodes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  atomic.Int32
	result domain.Location
	err    error
	delay  time.Duration
}

func (m *countingGeocoder) Geocode(_ context.Context, _ string) (domain.Location, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.result, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{result: domain.Location{Postcode: "SW7 3RP", Lat: 51.49, Lng: -0.17}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, metrics)

	l1, err := cached.Geocode(context.Background(), "SW7 3RP")
	require.NoError(t, err)
	l2, err := cached.Geocode(context.Background(), "sw7 3rp")
	require.NoError(t, err)

	assert.Equal(t, l1, l2)
	assert.Equal(t, int32(1), inner.calls.Load(), "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("hit")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("miss")), 1e-9)
}

func TestCachedGeocoder_ErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.Geocode(context.Background(), "SW7 3RP")
	require.Error(t, err)
	_, err = cached.Geocode(context.Background(), "SW7 3RP")
	require.Error(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, cached.cache.size())
}

func TestCachedGeocoder_ConcurrentMissesShareCall(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.Location{Postcode: "E1 6AN", Lat: 51.52, Lng: -0.07},
		delay:  50 * time.Millisecond,
	}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := cached.Geocode(context.Background(), "E1 6AN")
			assert.NoError(t, err)
			assert.Equal(t, "E1 6AN", loc.Postcode)
		}()
	}
	wg.Wait()

	assert.Less(t, inner.calls.Load(), int32(8))
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", domain.Location{Postcode: "A"})
	c.put("b", domain.Location{Postcode: "B"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result.Postcode)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Postcode: "A"})
	c.put("b", domain.Location{Postcode: "B"})
	c.put("c", domain.Location{Postcode: "C"}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result.Postcode)
	assert.Equal(t, 2, c.size())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Postcode: "A"})
	c.put("b", domain.Location{Postcode: "B"})
	c.get("a")
	c.put("c", domain.Location{Postcode: "C"})

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Postcode: "A1"})
	c.put("a", domain.Location{Postcode: "A2"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result.Postcode)
	assert.Equal(t, 1, c.size())
}

// gatedGeocoder blocks until released or until its context ends.
type gatedGeocoder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	result  domain.Location
}

func (g *gatedGeocoder) Geocode(ctx context.Context, _ string) (domain.Location, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.result, nil
	case <-ctx.Done():
		return domain.Location{}, ctx.Err()
	}
}

func TestCachedGeocoder_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	inner := &gatedGeocoder{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  domain.Location{Postcode: "SW7 3RP", Lat: 51.49, Lng: -0.17},
	}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Geocode(firstCtx, "SW7 3RP")
		firstErr <- err
	}()
	<-inner.started

	type result struct {
		loc domain.Location
		err error
	}
	second := make(chan result, 1)
	go func() {
		loc, err := cached.Geocode(context.Background(), "SW7 3RP")
		second <- result{loc, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the second caller join the in-flight lookup

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(inner.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "SW7 3RP", got.loc.Postcode)

	loc, err := cached.Geocode(context.Background(), "sw7 3rp")
	require.NoError(t, err)
	assert.Equal(t, got.loc, loc, "shared result is cached")
}
