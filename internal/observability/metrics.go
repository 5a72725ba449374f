package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "property_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// forecast service.
type Metrics struct {
	// Ingestion metrics.
	MessagesConsumed    prometheus.Counter
	RowsBuffered        prometheus.Counter
	TransactionsDropped *prometheus.CounterVec // labels: reason={decode,price,date,postcode}
	PipelineRunning     prometheus.Gauge
	BufferSize          prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Training metrics.
	Retrains         *prometheus.CounterVec // labels: outcome={success,error,skipped}
	TrainingDuration prometheus.Histogram
	BundleSwaps      prometheus.Counter
	BundleAge        prometheus.Gauge // unix seconds of the serving bundle

	// Serving metrics.
	Predictions     *prometheus.CounterVec // labels: outcome={ok,fallback,error}
	EventsPublished *prometheus.CounterVec // labels: outcome={success,error}

	// External source metrics.
	SourceRequests *prometheus.CounterVec   // labels: source, outcome={success,error}
	SourceDuration *prometheus.HistogramVec // labels: source
	GeocodeCache   *prometheus.CounterVec   // labels: result={hit,miss}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the transaction topic.",
		}),
		RowsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_buffered_total",
			Help:      "Total valid transactions added to the training buffer.",
		}),
		TransactionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_dropped_total",
			Help:      "Total transaction rows dropped as malformed, by failing field.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingestion pipeline is active, 0 when shut down.",
		}),
		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_transactions",
			Help:      "Transactions currently held for the next retrain.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		Retrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrains_total",
			Help:      "Retraining runs by outcome.",
		}, []string{"outcome"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Wall time of a full bundle training run.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		BundleSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_swaps_total",
			Help:      "Times a new model bundle was installed for serving.",
		}),
		BundleAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundle_created_timestamp_seconds",
			Help:      "Creation time of the serving model bundle.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Forecast requests by outcome.",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Forecast events written to the sink topic by outcome.",
		}, []string{"outcome"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "External source lookups by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "External source lookup duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"source"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Postcode lookup cache results.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.RowsBuffered,
		m.TransactionsDropped,
		m.PipelineRunning,
		m.BufferSize,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.Retrains,
		m.TrainingDuration,
		m.BundleSwaps,
		m.BundleAge,
		m.Predictions,
		m.EventsPublished,
		m.SourceRequests,
		m.SourceDuration,
		m.GeocodeCache,
	}
}
