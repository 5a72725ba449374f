package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw event into a validated transaction.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.TransactionRecord, error)
}

// BatchLoader stores validated transactions for the next retrain.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []domain.TransactionRecord) error
}

// Pipeline feeds the training buffer from the transaction topic.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once at least one transaction has been buffered.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no transactions buffered yet")
	}
	return nil
}

// Run consumes batches until the context is cancelled. Extract and load
// failures back off exponentially; malformed rows never stop the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
		if err := p.step(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("pipeline step failed", "error", err, "retry_in", backoff)
			if !sharedretry.SleepWithContext(ctx, backoff) {
				continue
			}
			backoff = sharedretry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff
	}
}

// step runs one extract, parse and load cycle.
func (p *Pipeline) step(ctx context.Context) error {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	records, accepted := p.parse(ctx, batch)
	if len(records) == 0 {
		return nil
	}

	if err := p.loader.LoadBatch(ctx, records); err != nil {
		// Offsets stay uncommitted so the rows are redelivered.
		return err
	}
	p.metrics.RowsBuffered.Add(float64(len(records)))
	for _, raw := range accepted {
		p.commit(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Debug("transactions buffered", "count", len(records), "dropped", len(batch)-len(records))
	return nil
}

// parse validates each message. Rejected rows are committed straight away
// so a poison pill is never redelivered; accepted rows are committed only
// after they are buffered.
func (p *Pipeline) parse(ctx context.Context, batch []domain.RawEvent) ([]domain.TransactionRecord, []domain.RawEvent) {
	records := make([]domain.TransactionRecord, 0, len(batch))
	accepted := make([]domain.RawEvent, 0, len(batch))

	for _, raw := range batch {
		rec, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			reason := dropReason(err)
			p.logger.Warn("dropping malformed transaction",
				"reason", reason,
				"error", err,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransactionsDropped.WithLabelValues(reason).Inc()
			p.commit(ctx, raw)
			continue
		}
		records = append(records, rec)
		accepted = append(accepted, raw)
	}
	return records, accepted
}

// dropReason names the failing field, or "decode" when the payload was not
// a transaction at all.
func dropReason(err error) string {
	var de *domain.DataError
	if errors.As(err, &de) {
		return de.Field
	}
	return "decode"
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
