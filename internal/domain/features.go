package domain

import (
	"slices"
	"sort"
)

// FeatureVector is the fixed-schema input row of the horizon regressors.
// Values and FeatureNames share one order; changing either invalidates stored bundles.
type FeatureVector struct {
	CurrentPrice float64 `json:"current_price"`
	TxVolume     float64 `json:"tx_volume"`
	Volatility   float64 `json:"volatility"`
	FloodRisk    float64 `json:"flood_risk"`
	CrimeRate    float64 `json:"crime_rate"`
	MarketRegime float64 `json:"market_regime"`
	Growth1y     float64 `json:"growth_1y"`
	Growth3y     float64 `json:"growth_3y"`
	Growth5y     float64 `json:"growth_5y"`
}

var featureNames = []string{
	"current_price", "tx_volume", "volatility",
	"flood_risk", "crime_rate", "market_regime",
	"growth_1y", "growth_3y", "growth_5y",
}

// FeatureNames returns the schema of FeatureVector.Values.
func FeatureNames() []string { return slices.Clone(featureNames) }

// Values flattens the vector in schema order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.CurrentPrice, f.TxVolume, f.Volatility,
		f.FloodRisk, f.CrimeRate, f.MarketRegime,
		f.Growth1y, f.Growth3y, f.Growth5y,
	}
}

// BuildFeatures derives the regressor input from a sample.
func BuildFeatures(s SectorYearSample) FeatureVector {
	return FeatureVector{
		CurrentPrice: s.PriceMedian,
		TxVolume:     float64(s.TxCount),
		Volatility:   s.Volatility,
		FloodRisk:    s.FloodRisk,
		CrimeRate:    s.CrimeRate,
		MarketRegime: s.MarketRegime,
		Growth1y:     s.Growth[0],
		Growth3y:     s.Growth[1],
		Growth5y:     s.Growth[2],
	}
}

// SectorStats is the inference-time view of a sector: its most recent sample,
// or the dataset means when the sector is unknown.
type SectorStats struct {
	Sector       string  `json:"sector,omitempty"`
	Year         int     `json:"year,omitempty"`
	CurrentPrice float64 `json:"current_price"`
	TxVolume     float64 `json:"tx_volume"`
	Volatility   float64 `json:"volatility"`
	FloodRisk    float64 `json:"flood_risk"`
	CrimeRate    float64 `json:"crime_rate"`
	MarketRegime float64 `json:"market_regime"`
	Growth1y     float64 `json:"growth_1y"`
	Growth3y     float64 `json:"growth_3y"`
	Growth5y     float64 `json:"growth_5y"`
}

// Features converts snapshot stats into a regressor input.
func (s SectorStats) Features() FeatureVector {
	return FeatureVector{
		CurrentPrice: s.CurrentPrice,
		TxVolume:     s.TxVolume,
		Volatility:   s.Volatility,
		FloodRisk:    s.FloodRisk,
		CrimeRate:    s.CrimeRate,
		MarketRegime: s.MarketRegime,
		Growth1y:     s.Growth1y,
		Growth3y:     s.Growth3y,
		Growth5y:     s.Growth5y,
	}
}

func statsFromSample(s SectorYearSample) SectorStats {
	f := BuildFeatures(s)
	return SectorStats{
		Sector:       s.Sector,
		Year:         s.Year,
		CurrentPrice: f.CurrentPrice,
		TxVolume:     f.TxVolume,
		Volatility:   f.Volatility,
		FloodRisk:    f.FloodRisk,
		CrimeRate:    f.CrimeRate,
		MarketRegime: f.MarketRegime,
		Growth1y:     f.Growth1y,
		Growth3y:     f.Growth3y,
		Growth5y:     f.Growth5y,
	}
}

// SnapshotWindow is how many of the most recent dataset years the snapshot
// considers (the latest year and the two before it).
const SnapshotWindow = 3

// Snapshot keeps, per sector, the newest sample within SnapshotWindow years of
// the dataset's latest year. Sectors with no sample in the window are absent.
func Snapshot(samples []SectorYearSample) map[string]SectorStats {
	out := make(map[string]SectorStats)
	if len(samples) == 0 {
		return out
	}
	latest := samples[0].Year
	for _, s := range samples {
		latest = max(latest, s.Year)
	}
	floor := latest - (SnapshotWindow - 1)

	for _, s := range samples {
		if s.Year < floor {
			continue
		}
		if prev, ok := out[s.Sector]; ok && prev.Year >= s.Year {
			continue
		}
		out[s.Sector] = statsFromSample(s)
	}
	return out
}

// DefaultStats averages every feature column across samples.
func DefaultStats(samples []SectorYearSample) SectorStats {
	if len(samples) == 0 {
		return SectorStats{}
	}
	var sum FeatureVector
	for _, s := range samples {
		f := BuildFeatures(s)
		sum.CurrentPrice += f.CurrentPrice
		sum.TxVolume += f.TxVolume
		sum.Volatility += f.Volatility
		sum.FloodRisk += f.FloodRisk
		sum.CrimeRate += f.CrimeRate
		sum.MarketRegime += f.MarketRegime
		sum.Growth1y += f.Growth1y
		sum.Growth3y += f.Growth3y
		sum.Growth5y += f.Growth5y
	}
	n := float64(len(samples))
	return SectorStats{
		CurrentPrice: sum.CurrentPrice / n,
		TxVolume:     sum.TxVolume / n,
		Volatility:   sum.Volatility / n,
		FloodRisk:    sum.FloodRisk / n,
		CrimeRate:    sum.CrimeRate / n,
		MarketRegime: sum.MarketRegime / n,
		Growth1y:     sum.Growth1y / n,
		Growth3y:     sum.Growth3y / n,
		Growth5y:     sum.Growth5y / n,
	}
}

// SortedSectors returns the keys of a snapshot in lexical order.
func SortedSectors(snapshot map[string]SectorStats) []string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
