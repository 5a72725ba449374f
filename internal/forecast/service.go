package forecast

import (
	"context"
	"log/slog"
	"math"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/ensemble"
	"github.com/couchcryptid/property-forecast/internal/observability"
	"github.com/couchcryptid/property-forecast/internal/sources"
	"github.com/google/uuid"
)

// Currency of every valuation.
const Currency = "GBP"

// Collector gathers live hazard and price-paid data for a postcode.
type Collector interface {
	Collect(ctx context.Context, postcode string) sources.Report
}

// Publisher receives every served forecast. Errors are logged, never returned
// to the caller.
type Publisher interface {
	Publish(ctx context.Context, event domain.ForecastEvent) error
}

// Request asks for a forecast. CurrentPrice is optional.
type Request struct {
	Postcode     string  `json:"postcode"`
	CurrentPrice float64 `json:"current_price,omitempty"`
}

// Response is the public forecast.
type Response struct {
	Postcode         string                            `json:"postcode"`
	Sector           string                            `json:"sector"`
	SectorKnown      bool                              `json:"sector_known"`
	ModelID          string                            `json:"model_id"`
	CurrentValuation domain.Valuation                  `json:"current_valuation"`
	RiskFactors      domain.RiskFactors                `json:"risk_factors"`
	Forecasts        map[string]domain.HorizonForecast `json:"forecasts"`
	Resilience       *ensemble.ResilienceForecast      `json:"resilience,omitempty"`
	Sources          *SourceSummary                    `json:"sources,omitempty"`
}

// SourceSummary lists which live sources answered.
type SourceSummary struct {
	Successful []string          `json:"successful"`
	Failed     []sources.Failure `json:"failed"`
}

// Service answers forecast requests from the serving bundle.
type Service struct {
	store     *Store
	collector Collector
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService creates a Service. collector and publisher may be nil: without a
// collector the snapshot hazards are used as they are.
func NewService(store *Store, collector Collector, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:     store,
		collector: collector,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Forecast resolves the postcode's sector, overlays live hazards on the
// snapshot statistics and predicts every horizon. It returns
// domain.ErrNoModel before a bundle is loaded and domain.ErrMissingIdentifier
// for postcodes without a sector.
func (s *Service) Forecast(ctx context.Context, req Request) (Response, error) {
	p := s.store.Current()
	if p == nil {
		s.metrics.Predictions.WithLabelValues("unavailable").Inc()
		return Response{}, domain.ErrNoModel
	}
	postcode := domain.NormalizePostcode(req.Postcode)
	sector, ok := domain.Sector(postcode)
	if !ok {
		s.metrics.Predictions.WithLabelValues("bad_request").Inc()
		return Response{}, domain.ErrMissingIdentifier
	}

	stats, known := p.SectorStats(sector)
	resp := Response{
		Postcode:    postcode,
		Sector:      sector,
		SectorKnown: known,
		ModelID:     p.Bundle().ID,
	}

	var report *sources.Report
	if s.collector != nil {
		r := s.collector.Collect(ctx, postcode)
		report = &r
		resp.Sources = &SourceSummary{Successful: r.Successful, Failed: r.Failed}
	}

	fv := stats.Features()
	floodLevel := domain.FloodLevel(stats.FloodRisk)
	// With a collector configured, live readings replace the snapshot hazards
	// and a hazard no source supplied counts as zero penalty.
	if report != nil {
		fv.FloodRisk, fv.CrimeRate, floodLevel = liveHazards(report)
	}
	current := currentPrice(req.CurrentPrice, report, stats.CurrentPrice)

	result, err := p.Predict(current, fv)
	if err != nil {
		s.metrics.Predictions.WithLabelValues("error").Inc()
		return Response{}, err
	}

	resp.CurrentValuation = domain.Valuation{Value: int64(math.Round(current)), Currency: Currency}
	resp.RiskFactors = domain.RiskFactors{
		FloodRiskScore:       fv.FloodRisk,
		FloodRiskLevel:       floodLevel,
		CrimeRate:            fv.CrimeRate,
		HistoricalVolatility: stats.Volatility,
	}
	resp.Forecasts = result.Forecasts

	if known {
		if rf, err := p.Classify(sector); err == nil {
			resp.Resilience = &rf
		}
	}

	outcome := "ok"
	if !known {
		outcome = "fallback"
	}
	s.metrics.Predictions.WithLabelValues(outcome).Inc()
	s.logger.Info("forecast served",
		"sector", sector,
		"sector_known", known,
		"bundle_id", resp.ModelID,
		"flood", fv.FloodRisk,
		"crime", fv.CrimeRate,
	)

	s.publish(ctx, domain.ForecastEvent{
		ID:          uuid.NewString(),
		Sector:      sector,
		Postcode:    postcode,
		SectorKnown: known,
		BundleID:    resp.ModelID,
		Result:      result,
		ServedAt:    domain.Now(),
	})
	return resp, nil
}

// SectorStats returns the snapshot statistics for a sector such as "SW7 3",
// or the defaults when the sector is unknown.
func (s *Service) SectorStats(sector string) (domain.SectorStats, bool, error) {
	p := s.store.Current()
	if p == nil {
		return domain.SectorStats{}, false, domain.ErrNoModel
	}
	sector, ok := domain.Sector(sector)
	if !ok {
		return domain.SectorStats{}, false, domain.ErrMissingIdentifier
	}
	stats, known := p.SectorStats(sector)
	return stats, known, nil
}

func (s *Service) publish(ctx context.Context, event domain.ForecastEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish forecast event failed", "sector", event.Sector, "error", err)
	}
}

// liveHazards reads flood and crime from a source report. Hazards no source
// could supply count as zero.
func liveHazards(r *sources.Report) (flood, crime float64, level string) {
	level = domain.LevelUnknown
	if r.Flood != nil {
		flood = r.Flood.Score
		level = domain.FloodLevel(flood)
	}
	if r.Crime != nil {
		crime = r.Crime.Score
	}
	return flood, crime, level
}

// currentPrice prefers the caller's price, then the latest recorded sale,
// then the sector snapshot.
func currentPrice(requested float64, r *sources.Report, snapshot float64) float64 {
	if requested > 0 {
		return requested
	}
	if r != nil && r.Sale != nil {
		if sale, ok := r.Sale.LastSale(); ok && sale.Price > 0 {
			return sale.Price
		}
	}
	return snapshot
}
