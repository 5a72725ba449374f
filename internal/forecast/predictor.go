package forecast

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
)

// DefaultFallbackPrice is the current price assumed for sectors missing from
// the snapshot.
const DefaultFallbackPrice = 450000

// ErrNoResilience is returned by Classify when the bundle has no classifier.
var ErrNoResilience = errors.New("bundle has no resilience classifier")

// Predictor serves forecasts from one bundle. It holds no mutable state and is
// safe for concurrent use.
type Predictor struct {
	bundle        *Bundle
	fallbackPrice float64
}

// NewPredictor validates b and wraps it. A non-positive fallbackPrice selects
// DefaultFallbackPrice.
func NewPredictor(b *Bundle, fallbackPrice float64) (*Predictor, error) {
	if b == nil {
		return nil, domain.ErrNoModel
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if fallbackPrice <= 0 {
		fallbackPrice = DefaultFallbackPrice
	}
	return &Predictor{bundle: b, fallbackPrice: fallbackPrice}, nil
}

// Bundle returns the underlying bundle.
func (p *Predictor) Bundle() *Bundle { return p.bundle }

// Predict forecasts every horizon for a property at currentPrice. The learned
// growth of each horizon is reduced by RiskPenalty of the vector's flood and
// crime values.
func (p *Predictor) Predict(currentPrice float64, fv domain.FeatureVector) (domain.ForecastResult, error) {
	x := fv.Values()
	result := domain.ForecastResult{
		CurrentPrice: currentPrice,
		Forecasts:    make(map[string]domain.HorizonForecast, len(domain.Horizons)),
	}
	for _, h := range domain.Horizons {
		m, ok := p.bundle.Regression.Model(h)
		if !ok {
			return domain.ForecastResult{}, fmt.Errorf("no model for horizon %d", h)
		}
		base, err := m.Predict(x)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		penalty := RiskPenalty(fv.FloodRisk, fv.CrimeRate, h)
		adjusted := base - penalty
		result.Forecasts[domain.HorizonKey(h)] = domain.HorizonForecast{
			GrowthPct:      round2(adjusted * 100),
			PriceValue:     int64(math.Round(currentPrice * (1 + adjusted))),
			RiskPenaltyPct: round2(penalty * 100),
			BaseGrowth:     base,
			Penalty:        penalty,
		}
	}
	return result, nil
}

// SectorStats returns the snapshot row for sector. Unknown sectors get the
// bundle's default statistics with the fallback price; the second result
// reports whether the sector was found.
func (p *Predictor) SectorStats(sector string) (domain.SectorStats, bool) {
	if s, ok := p.bundle.Snapshot[sector]; ok {
		return s, true
	}
	d := p.bundle.Defaults
	d.Sector = sector
	d.Year = 0
	d.CurrentPrice = p.fallbackPrice
	return d, false
}

// Classify runs the resilience classifier for a sector seen in training.
func (p *Predictor) Classify(sector string) (ensemble.ResilienceForecast, error) {
	if p.bundle.Resilience == nil {
		return ensemble.ResilienceForecast{}, ErrNoResilience
	}
	row, ok := p.bundle.ClassifierRows[sector]
	if !ok {
		return ensemble.ResilienceForecast{}, fmt.Errorf("sector %q has no classifier features", sector)
	}
	return p.bundle.Resilience.Predict(row)
}
