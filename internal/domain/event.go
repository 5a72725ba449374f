package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ForecastEvent is the record published to the sink topic for every served forecast.
type ForecastEvent struct {
	ID          string         `json:"id"`
	Sector      string         `json:"sector"`
	Postcode    string         `json:"postcode"`
	SectorKnown bool           `json:"sector_known"`
	BundleID    string         `json:"bundle_id"`
	Result      ForecastResult `json:"result"`
	ServedAt    time.Time      `json:"served_at"`
}
