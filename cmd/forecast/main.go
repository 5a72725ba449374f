package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/property-forecast/internal/adapter/flood"
	"github.com/couchcryptid/property-forecast/internal/adapter/httpadapter"
	"github.com/couchcryptid/property-forecast/internal/adapter/httpclient"
	kafkaadapter "github.com/couchcryptid/property-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/property-forecast/internal/adapter/landregistry"
	"github.com/couchcryptid/property-forecast/internal/adapter/police"
	"github.com/couchcryptid/property-forecast/internal/adapter/postcodes"
	"github.com/couchcryptid/property-forecast/internal/config"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/sources"
	"github.com/couchcryptid/property-forecast/internal/spatial"
	"github.com/couchcryptid/property-forecast/internal/storage"
	"github.com/jonboulle/clockwork"
)

const userAgent = "property-forecast/1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	training, err := config.LoadTraining(cfg.TrainingConfig)
	if err != nil {
		logger.Error("failed to load training config", "error", err)
		os.Exit(1)
	}
	centroids, err := loadCentroids(cfg.CentroidsCSV)
	if err != nil {
		logger.Error("failed to load centroids", "error", err)
		os.Exit(1)
	}

	bundles, err := storage.Open(cfg.DBPath, cfg.BundleKeep)
	if err != nil {
		logger.Error("failed to open bundle store", "error", err)
		os.Exit(1)
	}
	defer bundles.Close() //nolint:errcheck // process exit

	transformer := pipeline.NewTransformer(cfg.MinPrice, logger)
	buffer := pipeline.NewTransactionBuffer(cfg.BufferCapacity, metrics, loadSeed(cfg.SeedCSV, transformer, logger)...)

	store := forecast.NewStore()
	retrainer := pipeline.NewRetrainer(buffer, bundles, store, pipeline.RetrainConfig{
		Interval:      cfg.RetrainInterval,
		MinRecords:    cfg.RetrainMinRecords,
		FallbackPrice: cfg.FallbackPrice,
		Options:       pipeline.TrainOptionsFrom(training, centroids),
	}, clockwork.NewRealClock(), logger, metrics)

	// Live hazard and price-paid lookups (feature-flagged via SOURCES_ENABLED).
	var collector forecast.Collector
	if cfg.SourcesEnabled {
		collector = newAggregator(cfg, logger, metrics)
		logger.Info("live sources enabled", "timeout", cfg.SourceTimeout, "rate", cfg.SourceRateLimit)
	} else {
		logger.Info("live sources disabled")
	}

	var (
		publisher forecast.Publisher
		reader    *kafkaadapter.Reader
		writer    *kafkaadapter.Writer
		p         *pipeline.Pipeline
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		publisher = writer
		p = pipeline.New(reader, transformer, buffer, logger, metrics, cfg.BatchSize)
	} else {
		logger.Info("kafka disabled")
	}

	service := forecast.NewService(store, collector, publisher, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, store, httpadapter.Routes{
		Forecaster: service,
		Retrainer:  retrainer,
		Bundles:    bundles,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrap(ctx, bundles, retrainer, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start periodic retraining.
	go func() {
		if err := retrainer.Run(ctx); err != nil {
			logger.Error("retrainer error", "error", err)
		}
	}()

	// Start ingestion pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// bootstrap installs the newest stored bundle. With nothing stored it trains
// from the seed buffer in the background; readiness stays false until then.
func bootstrap(ctx context.Context, bundles *storage.BundleStore, retrainer *pipeline.Retrainer, logger *slog.Logger) {
	b, err := bundles.Latest(ctx)
	switch {
	case err == nil:
		if err := retrainer.Install(b); err != nil {
			logger.Error("stored bundle rejected", "bundle_id", b.ID, "error", err)
		} else {
			return
		}
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("no stored bundle")
	default:
		logger.Error("load stored bundle failed", "error", err)
	}

	go func() {
		if _, err := retrainer.RetrainNow(ctx); err != nil {
			logger.Warn("initial training failed; waiting for data", "error", err)
		}
	}()
}

func newAggregator(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *sources.Aggregator {
	opts := httpclient.Options{
		Timeout:   cfg.SourceTimeout,
		Rate:      cfg.SourceRateLimit,
		UserAgent: userAgent,
	}
	var geocoder domain.Geocoder = postcodes.NewClient(cfg.PostcodesURL, opts, logger)
	geocoder = postcodes.NewCachedGeocoder(geocoder, cfg.GeocodeCacheSize, metrics)

	return sources.NewAggregator(geocoder, cfg.SourceTimeout, logger, metrics,
		flood.NewClient(cfg.FloodURL, flood.DefaultRadiusKm, opts, logger),
		police.NewClient(cfg.PoliceURL, opts, logger),
		landregistry.NewClient(cfg.LandRegistryURL, landregistry.DefaultPageSize, opts, logger),
	)
}

func loadSeed(path string, transformer *pipeline.TransactionTransformer, logger *slog.Logger) []domain.TransactionRecord {
	if path == "" {
		return nil
	}
	rows, err := pipeline.ReadTransactionsFile(path)
	if err != nil {
		logger.Error("seed transactions unreadable", "path", path, "error", err)
		return nil
	}
	records, dropped := transformer.ParseAll(rows)
	logger.Info("seed transactions loaded", "path", path, "records", len(records), "dropped", dropped)
	return records
}

func loadCentroids(path string) ([]spatial.Centroid, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only
	return spatial.LoadCentroidsCSV(f)
}
