package domain

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinTransactions is the noise floor for a sector-year bucket.
	MinTransactions = 3
	// DefaultMinYear is the first year for which samples are emitted.
	DefaultMinYear = 2000
)

// Horizons are the forecast horizons in years, in the order used by every
// per-horizon array in this package.
var Horizons = []int{1, 3, 5}

// HorizonIndex returns the position of h in Horizons, or -1.
func HorizonIndex(h int) int {
	return slices.Index(Horizons, h)
}

// SectorYearSample is the aggregate of one sector's sales in one calendar year,
// with lag features and (after AttachTargets) forward growth targets. Lag,
// growth and target arrays are indexed like Horizons.
type SectorYearSample struct {
	Sector       string      `json:"sector"`
	Year         int         `json:"year"`
	PriceMedian  float64     `json:"price_median"`
	PriceStd     float64     `json:"price_std"`
	TxCount      int         `json:"tx_count"`
	FloodRisk    float64     `json:"flood_risk"`
	CrimeRate    float64     `json:"crime_rate"`
	Volatility   float64     `json:"volatility"`
	PriceLag     [3]float64  `json:"price_lag"`
	Growth       [3]float64  `json:"growth"`
	MarketRegime float64     `json:"market_regime"`
	Targets      [3]*float64 `json:"targets,omitempty"`
}

// GrowthOver returns the lag growth for a 1, 3 or 5 year look-back.
func (s SectorYearSample) GrowthOver(years int) float64 {
	if i := HorizonIndex(years); i >= 0 {
		return s.Growth[i]
	}
	return 0
}

// Target returns the forward growth for horizon h when it is defined.
func (s SectorYearSample) Target(h int) (float64, bool) {
	i := HorizonIndex(h)
	if i < 0 || s.Targets[i] == nil {
		return 0, false
	}
	return *s.Targets[i], true
}

// HasTarget reports whether at least one horizon has a target.
func (s SectorYearSample) HasTarget() bool {
	for _, t := range s.Targets {
		if t != nil {
			return true
		}
	}
	return false
}

// AggregateOptions tunes the sector-year aggregation.
type AggregateOptions struct {
	MinTransactions int
	MinYear         int
}

// DefaultAggregateOptions returns the documented floors.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{MinTransactions: MinTransactions, MinYear: DefaultMinYear}
}

type sectorYear struct {
	sector string
	year   int
}

type bucket struct {
	prices   []float64
	flood    float64
	crimeSum float64
}

type yearStats struct {
	median float64
	std    float64
	count  int
	flood  float64
	crime  float64
}

// Aggregate groups transactions into sector-year samples with lag features.
// The result is ordered by sector, then year.
func Aggregate(records []TransactionRecord, opts AggregateOptions) []SectorYearSample {
	if opts.MinTransactions <= 0 {
		opts.MinTransactions = MinTransactions
	}

	buckets := make(map[sectorYear]*bucket)
	for _, r := range records {
		if r.Sector == "" || r.Price <= 0 {
			continue
		}
		k := sectorYear{sector: r.Sector, year: r.Year()}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.prices = append(b.prices, r.Price)
		b.flood = max(b.flood, r.FloodRiskScore)
		b.crimeSum += r.CrimeRate
	}

	bySector := make(map[string]map[int]yearStats)
	for k, b := range buckets {
		if len(b.prices) < opts.MinTransactions {
			continue
		}
		std := PopStd(b.prices)
		years, ok := bySector[k.sector]
		if !ok {
			years = make(map[int]yearStats)
			bySector[k.sector] = years
		}
		years[k.year] = yearStats{
			median: Median(b.prices),
			std:    std,
			count:  len(b.prices),
			flood:  b.flood,
			crime:  b.crimeSum / float64(len(b.prices)),
		}
	}

	sectors := make([]string, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	var samples []SectorYearSample
	for _, sector := range sectors {
		years := bySector[sector]
		ordered := make([]int, 0, len(years))
		for y := range years {
			ordered = append(ordered, y)
		}
		sort.Ints(ordered)

		for _, year := range ordered {
			if year < opts.MinYear {
				continue
			}
			cur := years[year]
			s := SectorYearSample{
				Sector:       sector,
				Year:         year,
				PriceMedian:  cur.median,
				PriceStd:     cur.std,
				TxCount:      cur.count,
				FloodRisk:    cur.flood,
				CrimeRate:    cur.crime,
				Volatility:   safeRatio(cur.std, cur.median),
				MarketRegime: MarketRegime(year),
			}
			for i, lag := range Horizons {
				prev, ok := years[year-lag]
				if !ok {
					s.PriceLag[i] = cur.median
					s.Growth[i] = 0
					continue
				}
				s.PriceLag[i] = prev.median
				s.Growth[i] = safeRatio(cur.median-prev.median, prev.median)
			}
			samples = append(samples, s)
		}
	}
	return samples
}

// AttachTargets returns a copy of samples with forward growth targets set for
// every horizon whose year+h bucket exists in the same sector.
func AttachTargets(samples []SectorYearSample) []SectorYearSample {
	medians := make(map[sectorYear]float64, len(samples))
	for _, s := range samples {
		medians[sectorYear{sector: s.Sector, year: s.Year}] = s.PriceMedian
	}

	out := make([]SectorYearSample, len(samples))
	for i, s := range samples {
		s.Targets = [3]*float64{}
		for j, h := range Horizons {
			future, ok := medians[sectorYear{sector: s.Sector, year: s.Year + h}]
			if !ok || s.PriceMedian <= 0 {
				continue
			}
			g := (future - s.PriceMedian) / s.PriceMedian
			s.Targets[j] = &g
		}
		out[i] = s
	}
	return out
}

// Labelled keeps the samples that have a target for at least one horizon.
func Labelled(samples []SectorYearSample) []SectorYearSample {
	out := make([]SectorYearSample, 0, len(samples))
	for _, s := range samples {
		if s.HasTarget() {
			out = append(out, s)
		}
	}
	return out
}

// HorizonSet returns the samples valid for horizon h with their targets.
func HorizonSet(samples []SectorYearSample, h int) ([]SectorYearSample, []float64) {
	var rows []SectorYearSample
	var targets []float64
	for _, s := range samples {
		if t, ok := s.Target(h); ok {
			rows = append(rows, s)
			targets = append(targets, t)
		}
	}
	return rows, targets
}

// Median returns the middle value of xs, averaging the two central values for
// even lengths. It does not modify xs.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PopStd returns the population standard deviation of xs, 0 for fewer than
// two values.
func PopStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(xs, nil)
	return std
}

func safeRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
