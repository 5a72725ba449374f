//go:build smoke

package postcodes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real postcodes.io API.
// Run with: go test -tags=smoke ./internal/adapter/postcodes/ -v -count=1

func smokeClient() *Client {
	return NewClient(DefaultBaseURL, httpclient.Options{Timeout: 10 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_Geocode(t *testing.T) {
	loc, err := smokeClient().Geocode(context.Background(), "SW7 3RP")
	require.NoError(t, err)

	assert.Equal(t, "SW7 3RP", loc.Postcode)
	assert.InDelta(t, 51.49, loc.Lat, 0.05, "lat should be near South Kensington")
	assert.InDelta(t, -0.17, loc.Lng, 0.05, "lng should be near South Kensington")
}

func TestSmoke_GeocodeUnknown(t *testing.T) {
	_, err := smokeClient().Geocode(context.Background(), "ZZ9 9ZZ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	cached := NewCachedGeocoder(smokeClient(), 10, observability.NewMetricsForTesting())

	l1, err := cached.Geocode(context.Background(), "E1 6AN")
	require.NoError(t, err)
	l2, err := cached.Geocode(context.Background(), "E1 6AN")
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}
