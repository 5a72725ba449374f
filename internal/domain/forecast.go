package domain

import (
	"context"
	"fmt"
	"time"
)

// HorizonKey formats a horizon as used in the public response ("1y").
func HorizonKey(h int) string { return fmt.Sprintf("%dy", h) }

// HorizonForecast is one horizon of a forecast. BaseGrowth and Penalty are the
// unrounded fractions behind the published percentages.
type HorizonForecast struct {
	GrowthPct      float64 `json:"growth_pct"`
	PriceValue     int64   `json:"price_value"`
	RiskPenaltyPct float64 `json:"risk_penalty_pct"`
	BaseGrowth     float64 `json:"-"`
	Penalty        float64 `json:"-"`
}

// ForecastResult maps "1y", "3y" and "5y" to their forecasts.
type ForecastResult struct {
	CurrentPrice float64                    `json:"current_price"`
	Forecasts    map[string]HorizonForecast `json:"forecasts"`
}

// Valuation is the current value shown alongside a forecast.
type Valuation struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// RiskFactors reports the hazard inputs behind the penalty.
type RiskFactors struct {
	FloodRiskScore       float64 `json:"flood_risk_score"`
	FloodRiskLevel       string  `json:"flood_risk_level"`
	CrimeRate            float64 `json:"crime_rate"`
	HistoricalVolatility float64 `json:"historical_volatility"`
}

// HazardReading is a live hazard score on the 0-10 scale.
type HazardReading struct {
	Score        float64 `json:"risk_score"`
	Level        string  `json:"risk_level"`
	ActiveAlerts int     `json:"active_alerts"`
	Source       string  `json:"source"`
	Message      string  `json:"message,omitempty"`
}

// Flood risk levels, highest first.
const (
	LevelHigh       = "High"
	LevelMediumHigh = "Medium-High"
	LevelMedium     = "Medium"
	LevelLow        = "Low"
	LevelUnknown    = "Unknown"
)

// FloodLevel maps a 0-10 score to its level label.
func FloodLevel(score float64) string {
	switch {
	case score >= 10:
		return LevelHigh
	case score >= 7:
		return LevelMediumHigh
	case score >= 4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Sale is one price-paid entry.
type Sale struct {
	Price        float64   `json:"price"`
	Date         time.Time `json:"date"`
	PropertyType string    `json:"property_type,omitempty"`
	Tenure       string    `json:"tenure,omitempty"`
	Address      string    `json:"address,omitempty"`
}

// PriceStats summarises a sale history.
type PriceStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average_price"`
	Min     float64 `json:"min_price"`
	Max     float64 `json:"max_price"`
	Median  float64 `json:"median_price"`
}

// SaleHistory is the price-paid record for a postcode, newest sale first.
type SaleHistory struct {
	Sales []Sale     `json:"sales"`
	Stats PriceStats `json:"statistics"`
}

// LastSale returns the newest sale, if any.
func (h SaleHistory) LastSale() (Sale, bool) {
	if len(h.Sales) == 0 {
		return Sale{}, false
	}
	return h.Sales[0], true
}

// Location is a geocoded postcode.
type Location struct {
	Postcode string  `json:"postcode"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Geocoder resolves a postcode to its coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, postcode string) (Location, error)
}
