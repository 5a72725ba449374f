package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Live hazard and price-paid lookups. Empty URLs use the public APIs.
	SourcesEnabled   bool
	PostcodesURL     string
	FloodURL         string
	PoliceURL        string
	LandRegistryURL  string
	SourceTimeout    time.Duration
	SourceRateLimit  float64
	GeocodeCacheSize int

	// Training and serving.
	FallbackPrice     float64
	MinPrice          float64
	BufferCapacity    int
	RetrainInterval   time.Duration
	RetrainMinRecords int
	SeedCSV           string
	TrainingConfig    string
	CentroidsCSV      string
	DBPath            string
	BundleKeep        int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	sourceTimeout, err := parseDuration("SOURCE_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}
	retrainInterval, err := parseDuration("RETRAIN_INTERVAL", "24h", true)
	if err != nil {
		return nil, err
	}

	sourceRate, err := parsePositiveFloat("SOURCE_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	fallbackPrice, err := parsePositiveFloat("FALLBACK_PRICE", 450000)
	if err != nil {
		return nil, err
	}
	minPrice, err := parsePositiveFloat("MIN_PRICE", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaEnabled:       parseBool("KAFKA_ENABLED", true),
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "property-transactions"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "sector-forecasts"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "property-forecast"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		SourcesEnabled:   parseBool("SOURCES_ENABLED", true),
		PostcodesURL:     os.Getenv("POSTCODES_URL"),
		FloodURL:         os.Getenv("FLOOD_URL"),
		PoliceURL:        os.Getenv("POLICE_URL"),
		LandRegistryURL:  os.Getenv("LAND_REGISTRY_URL"),
		SourceTimeout:    sourceTimeout,
		SourceRateLimit:  sourceRate,
		GeocodeCacheSize: parsePositiveInt("GEOCODE_CACHE_SIZE", 1000),

		FallbackPrice:     fallbackPrice,
		MinPrice:          minPrice,
		BufferCapacity:    parsePositiveInt("BUFFER_CAPACITY", 500_000),
		RetrainInterval:   retrainInterval,
		RetrainMinRecords: parsePositiveInt("RETRAIN_MIN_RECORDS", 1000),
		SeedCSV:           os.Getenv("SEED_CSV"),
		TrainingConfig:    os.Getenv("TRAINING_CONFIG"),
		CentroidsCSV:      os.Getenv("CENTROIDS_CSV"),
		DBPath:            sharedcfg.EnvOrDefault("DB_PATH", "data/bundles.db"),
		BundleKeep:        parsePositiveInt("BUNDLE_KEEP", 5),
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}
	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}

	return cfg, nil
}

// parseDuration reads a duration variable. allowZero admits "0" to disable a
// feature; negative values are always rejected.
func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveFloat(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func parsePositiveInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseBool(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}
