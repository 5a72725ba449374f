package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
)

// BundleVersion is bumped whenever the serialised layout changes.
const BundleVersion = 1

// Bundle is an immutable, fully fitted set of models plus the lookup tables
// inference needs. ClassifierRows holds each sector's resilience feature row
// when a resilience ensemble was trained. Bundles are safe for concurrent
// readers.
type Bundle struct {
	ID             string                        `json:"id"`
	Version        int                           `json:"version"`
	CreatedAt      time.Time                     `json:"created_at"`
	FeatureNames   []string                      `json:"feature_names"`
	Regression     *ensemble.RegressionEnsemble  `json:"regression"`
	Resilience     *ensemble.ResilienceEnsemble  `json:"resilience,omitempty"`
	Snapshot       map[string]domain.SectorStats `json:"snapshot"`
	Defaults       domain.SectorStats            `json:"defaults"`
	ClassifierRows map[string][]float64          `json:"classifier_rows,omitempty"`
	Reports        Reports                       `json:"reports"`
}

// Reports records how the bundle's models scored when trained.
type Reports struct {
	Transactions int                        `json:"transactions"`
	Samples      int                        `json:"samples"`
	Labelled     int                        `json:"labelled"`
	Horizons     []ensemble.HorizonReport   `json:"horizons"`
	Resilience   *ensemble.ResilienceReport `json:"resilience,omitempty"`
	Duration     time.Duration              `json:"duration_ns"`
}

// Validate checks the bundle can serve forecasts with the current schema.
func (b *Bundle) Validate() error {
	if b.ID == "" {
		return errors.New("bundle has no id")
	}
	if b.Version != BundleVersion {
		return fmt.Errorf("bundle version %d, want %d", b.Version, BundleVersion)
	}
	if !slices.Equal(b.FeatureNames, domain.FeatureNames()) {
		return fmt.Errorf("bundle feature schema %v does not match %v", b.FeatureNames, domain.FeatureNames())
	}
	if b.Regression == nil {
		return errors.New("bundle has no regression models")
	}
	if err := b.Regression.Validate(); err != nil {
		return fmt.Errorf("bundle regression: %w", err)
	}
	if b.Resilience != nil {
		if err := b.Resilience.Validate(); err != nil {
			return fmt.Errorf("bundle resilience: %w", err)
		}
	}
	return nil
}

// EncodeBundle serialises a bundle.
func EncodeBundle(b *Bundle) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle %s: %w", b.ID, err)
	}
	return data, nil
}

// DecodeBundle restores and validates a serialised bundle.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Snapshot == nil {
		b.Snapshot = map[string]domain.SectorStats{}
	}
	return &b, nil
}
