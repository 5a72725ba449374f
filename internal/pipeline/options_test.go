package pipeline_test

import (
	"testing"

	"github.com/couchcryptid/property-forecast/internal/config"
	"github.com/couchcryptid/property-forecast/internal/learn"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/spatial"
	"github.com/stretchr/testify/assert"
)

func TestTrainOptionsFrom(t *testing.T) {
	tc := config.DefaultTraining()
	tc.MinYear = 2010
	tc.Regression.Family = learn.KindForest
	tc.ResilienceEnabled = false
	centroids := []spatial.Centroid{{Sector: "M1 1", Lat: 53.48, Lng: -2.24}}

	opts := pipeline.TrainOptionsFrom(&tc, centroids)

	assert.Equal(t, 2010, opts.Aggregate.MinYear)
	assert.Equal(t, tc.MinTransactions, opts.Aggregate.MinTransactions)
	assert.Equal(t, learn.KindForest, opts.Regression.Family)
	assert.False(t, opts.ResilienceEnabled)
	assert.Equal(t, tc.Resilience, opts.Resilience)
	assert.Equal(t, centroids, opts.Centroids)
}
