package spatial

import (
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// DefaultNeighbors is the neighbourhood size used for lag features.
const DefaultNeighbors = 5

// distanceEpsilon keeps inverse-distance weights finite for coincident centroids.
const distanceEpsilon = 1e-6

// NeighborStats are the per-sector statistics smoothed over neighbours.
type NeighborStats struct {
	MedianPrice   float64 `json:"median_price"`
	Growth1y      float64 `json:"growth_1y"`
	Volatility    float64 `json:"volatility"`
	Drawdown      float64 `json:"drawdown"`
	RecentTxCount float64 `json:"recent_tx_count"`
}

func (s NeighborStats) values() []float64 {
	return []float64{s.MedianPrice, s.Growth1y, s.Volatility, s.Drawdown, s.RecentTxCount}
}

func statsFromValues(v []float64) NeighborStats {
	return NeighborStats{MedianPrice: v[0], Growth1y: v[1], Volatility: v[2], Drawdown: v[3], RecentTxCount: v[4]}
}

// StatsFromProfile extracts the smoothed statistics from a sector profile.
func StatsFromProfile(p domain.SectorProfile) NeighborStats {
	return NeighborStats{
		MedianPrice:   p.MedianPrice,
		Growth1y:      p.Growth1y,
		Volatility:    p.Volatility,
		Drawdown:      p.Drawdown,
		RecentTxCount: p.RecentTxCount,
	}
}

// LagFeatures holds inverse-distance weighted means (Lag), unweighted
// population standard deviations (Std) and the mean neighbour distance.
// The zero value is the documented default for sectors without neighbours.
type LagFeatures struct {
	Lag            NeighborStats `json:"spatial_lag"`
	Std            NeighborStats `json:"spatial_std"`
	MeanDistanceKm float64       `json:"mean_distance_km"`
	Neighbors      int           `json:"neighbors"`
}

var lagFeatureNames = []string{
	"spatial_lag_median_price", "spatial_lag_growth_1y", "spatial_lag_volatility",
	"spatial_lag_drawdown", "spatial_lag_recent_tx_count",
	"spatial_std_median_price", "spatial_std_growth_1y", "spatial_std_volatility",
	"spatial_std_drawdown", "spatial_std_recent_tx_count",
	"spatial_mean_distance_km",
}

// LagFeatureNames returns the schema of LagFeatures.Values.
func LagFeatureNames() []string {
	out := make([]string, len(lagFeatureNames))
	copy(out, lagFeatureNames)
	return out
}

// Values flattens the lag block in schema order. Neighbors is not a feature.
func (l LagFeatures) Values() []float64 {
	out := make([]float64, 0, len(lagFeatureNames))
	out = append(out, l.Lag.values()...)
	out = append(out, l.Std.values()...)
	return append(out, l.MeanDistanceKm)
}

// Lag computes spatial lag features for sector over its k nearest neighbours
// that have statistics. An unknown sector or one with no resolvable
// neighbours yields the zero LagFeatures.
func (idx *Index) Lag(sector string, k int, stats map[string]NeighborStats) LagFeatures {
	neighbors := idx.nearest(sector, k, func(s string) bool {
		_, ok := stats[s]
		return ok
	})
	if len(neighbors) == 0 {
		return LagFeatures{}
	}

	weights := make([]float64, len(neighbors))
	columns := make([][]float64, 5)
	var distKm float64
	for i, n := range neighbors {
		weights[i] = 1 / (n.Distance + distanceEpsilon)
		for c, v := range stats[n.Sector].values() {
			columns[c] = append(columns[c], v)
		}
		distKm += n.DistanceKm()
	}

	lag := make([]float64, len(columns))
	std := make([]float64, len(columns))
	for c, col := range columns {
		// stat.Mean normalises by the weight sum.
		lag[c] = stat.Mean(col, weights)
		std[c] = domain.PopStd(col)
	}

	return LagFeatures{
		Lag:            statsFromValues(lag),
		Std:            statsFromValues(std),
		MeanDistanceKm: distKm / float64(len(neighbors)),
		Neighbors:      len(neighbors),
	}
}

// LagAll computes lag features for every sector in stats.
func (idx *Index) LagAll(k int, stats map[string]NeighborStats) map[string]LagFeatures {
	out := make(map[string]LagFeatures, len(stats))
	for sector := range stats {
		out[sector] = idx.Lag(sector, k, stats)
	}
	return out
}
