package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrRetrainInProgress is returned by RetrainNow while another retrain runs.
	ErrRetrainInProgress = errors.New("retrain already in progress")

	// ErrNotEnoughData is returned when the buffer holds fewer records than
	// RetrainConfig.MinRecords.
	ErrNotEnoughData = errors.New("not enough transactions to retrain")
)

// RecordSource supplies the transactions a retrain trains on.
type RecordSource interface {
	Snapshot() []domain.TransactionRecord
}

// BundleSaver persists newly trained bundles.
type BundleSaver interface {
	Save(ctx context.Context, b *forecast.Bundle) error
}

// RetrainConfig configures the Retrainer. An Interval of zero disables the
// periodic loop; RetrainNow still works.
type RetrainConfig struct {
	Interval      time.Duration
	MinRecords    int
	FallbackPrice float64
	Options       forecast.TrainOptions
}

// Retrainer trains bundles off the request path and hot-swaps them into the
// serving store. At most one retrain runs at a time.
type Retrainer struct {
	source  RecordSource
	saver   BundleSaver
	store   *forecast.Store
	cfg     RetrainConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	running sync.Mutex
}

// NewRetrainer creates a Retrainer. saver may be nil to keep bundles in memory
// only.
func NewRetrainer(source RecordSource, saver BundleSaver, store *forecast.Store, cfg RetrainConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Retrainer {
	return &Retrainer{
		source:  source,
		saver:   saver,
		store:   store,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Run retrains on every tick until ctx is cancelled.
func (r *Retrainer) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		r.logger.Info("periodic retraining disabled")
		return nil
	}
	r.logger.Info("retrainer started", "interval", r.cfg.Interval)

	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retrainer stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if _, err := r.RetrainNow(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("scheduled retrain failed", "error", err)
			}
		}
	}
}

// RetrainNow trains a bundle from the current records, saves it and swaps it
// into the store. A bundle that cannot be saved is not served.
func (r *Retrainer) RetrainNow(ctx context.Context) (*forecast.Bundle, error) {
	if !r.running.TryLock() {
		r.metrics.Retrains.WithLabelValues("skipped").Inc()
		return nil, ErrRetrainInProgress
	}
	defer r.running.Unlock()
	return r.retrain(ctx)
}

// Trigger starts a retrain in the background and returns immediately. The
// retrain outlives ctx's cancellation but keeps its values.
func (r *Retrainer) Trigger(ctx context.Context) error {
	if !r.running.TryLock() {
		r.metrics.Retrains.WithLabelValues("skipped").Inc()
		return ErrRetrainInProgress
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.running.Unlock()
		if _, err := r.retrain(ctx); err != nil {
			r.logger.Warn("triggered retrain failed", "error", err)
		}
	}()
	return nil
}

func (r *Retrainer) retrain(ctx context.Context) (*forecast.Bundle, error) {
	records := r.source.Snapshot()
	if len(records) < r.cfg.MinRecords {
		r.metrics.Retrains.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughData, len(records), r.cfg.MinRecords)
	}

	start := r.clock.Now()
	b, err := forecast.TrainBundle(ctx, records, r.cfg.Options, r.logger)
	r.metrics.TrainingDuration.Observe(r.clock.Since(start).Seconds())
	if err != nil {
		r.metrics.Retrains.WithLabelValues("error").Inc()
		return nil, err
	}

	if r.saver != nil {
		if err := r.saver.Save(ctx, b); err != nil {
			r.metrics.Retrains.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("save bundle %s: %w", b.ID, err)
		}
	}
	if err := r.Install(b); err != nil {
		r.metrics.Retrains.WithLabelValues("error").Inc()
		return nil, err
	}
	r.metrics.Retrains.WithLabelValues("success").Inc()
	return b, nil
}

// Install validates b and makes it the serving bundle.
func (r *Retrainer) Install(b *forecast.Bundle) error {
	p, err := forecast.NewPredictor(b, r.cfg.FallbackPrice)
	if err != nil {
		return err
	}
	old := r.store.Swap(p)
	r.metrics.BundleSwaps.Inc()
	r.metrics.BundleAge.Set(float64(b.CreatedAt.Unix()))

	attrs := []any{"bundle_id", b.ID, "sectors", len(b.Snapshot)}
	if old != nil {
		attrs = append(attrs, "replaced", old.Bundle().ID)
	}
	r.logger.Info("bundle installed", attrs...)
	return nil
}
