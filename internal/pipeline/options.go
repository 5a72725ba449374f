package pipeline

import (
	"github.com/couchcryptid/property-forecast/internal/config"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/spatial"
)

// TrainOptionsFrom turns loaded training settings into bundle training
// options. centroids may be nil; resilience then trains without spatial lags.
func TrainOptionsFrom(t *config.Training, centroids []spatial.Centroid) forecast.TrainOptions {
	return forecast.TrainOptions{
		Aggregate:         t.AggregateOptions(),
		Regression:        t.Regression,
		ResilienceEnabled: t.ResilienceEnabled,
		Resilience:        t.Resilience,
		Centroids:         centroids,
	}
}
