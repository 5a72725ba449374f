package forecast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
	"github.com/couchcryptid/property-forecast/internal/spatial"
	"github.com/google/uuid"
)

// TrainOptions configures TrainBundle.
type TrainOptions struct {
	Aggregate  domain.AggregateOptions
	Regression ensemble.RegressionConfig
	// Resilience is trained only when ResilienceEnabled is set. Sectors
	// without a centroid get the zero spatial lag block.
	ResilienceEnabled bool
	Resilience        ensemble.ResilienceConfig
	Centroids         []spatial.Centroid
}

// DefaultTrainOptions trains the regressors and the resilience classifier
// with their default settings.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Aggregate:         domain.DefaultAggregateOptions(),
		Regression:        ensemble.DefaultRegressionConfig(),
		ResilienceEnabled: true,
		Resilience:        ensemble.DefaultResilienceConfig(),
	}
}

// TrainBundle aggregates records, fits every model and returns a new bundle.
// A resilience dataset with too few sectors is logged and skipped; any other
// training failure is returned as *domain.TrainingError.
func TrainBundle(ctx context.Context, records []domain.TransactionRecord, opts TrainOptions, logger *slog.Logger) (*Bundle, error) {
	start := domain.Now()

	samples := domain.AttachTargets(domain.Aggregate(records, opts.Aggregate))
	labelled := domain.Labelled(samples)
	logger.Info("training started",
		"transactions", len(records),
		"samples", len(samples),
		"labelled", len(labelled),
	)

	regression, horizons, err := ensemble.TrainRegression(ctx, labelled, opts.Regression, logger)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		ID:           uuid.NewString(),
		Version:      BundleVersion,
		FeatureNames: domain.FeatureNames(),
		Regression:   regression,
		Snapshot:     domain.Snapshot(samples),
		Defaults:     domain.DefaultStats(samples),
		Reports: Reports{
			Transactions: len(records),
			Samples:      len(samples),
			Labelled:     len(labelled),
			Horizons:     horizons,
		},
	}

	if opts.ResilienceEnabled {
		if err := trainResilience(ctx, b, samples, opts, logger); err != nil {
			return nil, err
		}
	}

	b.CreatedAt = domain.Now()
	b.Reports.Duration = b.CreatedAt.Sub(start)
	logger.Info("training finished",
		"bundle_id", b.ID,
		"sectors", len(b.Snapshot),
		"resilience", b.Resilience != nil,
		"duration", b.Reports.Duration,
	)
	return b, nil
}

func trainResilience(ctx context.Context, b *Bundle, samples []domain.SectorYearSample, opts TrainOptions, logger *slog.Logger) error {
	var idx *spatial.Index
	if len(opts.Centroids) > 0 {
		idx = spatial.NewIndex(opts.Centroids)
	}

	res, report, err := ensemble.TrainResilience(ctx, samples, idx, opts.Resilience, logger)
	if err != nil {
		if errors.Is(err, ensemble.ErrTooFewSectors) {
			logger.Warn("skipping resilience classifier", "error", err)
			return nil
		}
		return err
	}

	ds := ensemble.BuildResilienceDataset(samples, idx, opts.Resilience.Neighbors)
	b.ClassifierRows = make(map[string][]float64, len(ds.Rows))
	for _, row := range ds.Rows {
		b.ClassifierRows[row.Sector] = row.Features
	}
	b.Resilience = res
	b.Reports.Resilience = &report
	return nil
}
