package ensemble

import (
	"math"
	"sort"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/learn"
	"github.com/couchcryptid/property-forecast/internal/spatial"
)

// Resilience classes, ordered from least to most resilient.
const (
	ClassLow = iota
	ClassMedium
	ClassHigh
	numClasses
)

// ClassNames labels the resilience classes by index.
var ClassNames = [numClasses]string{"Low", "Medium", "High"}

// Resilience score weights.
const (
	weightDrawdown   = 0.4
	weightVolatility = 0.3
	weightGrowth     = 0.3
)

// Tertile cut points of the score distribution.
const (
	lowerCutPercentile = 33
	upperCutPercentile = 67
)

// ResilienceRow is one sector in the classifier training set.
type ResilienceRow struct {
	Sector   string
	Features []float64
	Score    float64
	Class    int
}

// ResilienceDataset is the sector-level classifier training set.
type ResilienceDataset struct {
	FeatureNames []string
	Rows         []ResilienceRow
	Cuts         [2]float64
}

// ClassifierFeatureNames is the schema of ClassifierFeatures: the regression
// features of the latest year, drawdown, then the spatial lag block.
func ClassifierFeatureNames() []string {
	names := domain.FeatureNames()
	names = append(names, "drawdown")
	return append(names, spatial.LagFeatureNames()...)
}

// ClassifierFeatures builds the classifier row for a sector.
func ClassifierFeatures(p domain.SectorProfile, lag spatial.LagFeatures) []float64 {
	row := domain.BuildFeatures(p.Latest).Values()
	row = append(row, p.Drawdown)
	return append(row, lag.Values()...)
}

// BuildResilienceDataset profiles every sector, attaches spatial lag features
// from idx (a nil index yields the zero lag block) and labels sectors by
// resilience tertile.
func BuildResilienceDataset(samples []domain.SectorYearSample, idx *spatial.Index, neighbors int) ResilienceDataset {
	profiles := domain.Profiles(samples)
	sectors := make([]string, 0, len(profiles))
	stats := make(map[string]spatial.NeighborStats, len(profiles))
	for sector, p := range profiles {
		sectors = append(sectors, sector)
		stats[sector] = spatial.StatsFromProfile(p)
	}
	sort.Strings(sectors)

	ds := ResilienceDataset{FeatureNames: ClassifierFeatureNames()}
	if len(sectors) == 0 {
		return ds
	}

	drawdown := make([]float64, len(sectors))
	volatility := make([]float64, len(sectors))
	growth := make([]float64, len(sectors))
	for i, s := range sectors {
		p := profiles[s]
		drawdown[i] = 1 - p.Drawdown
		volatility[i] = 1 - p.Volatility
		growth[i] = p.Growth
	}
	drawdown = minMax(drawdown)
	volatility = minMax(volatility)
	growth = minMax(growth)

	scores := make([]float64, len(sectors))
	for i, s := range sectors {
		var lag spatial.LagFeatures
		if idx != nil {
			lag = idx.Lag(s, neighbors, stats)
		}
		scores[i] = clamp01(weightDrawdown*drawdown[i] + weightVolatility*volatility[i] + weightGrowth*growth[i])
		ds.Rows = append(ds.Rows, ResilienceRow{
			Sector:   s,
			Features: ClassifierFeatures(profiles[s], lag),
			Score:    scores[i],
		})
	}

	ds.Cuts = [2]float64{
		learn.Percentile(scores, lowerCutPercentile),
		learn.Percentile(scores, upperCutPercentile),
	}
	for i := range ds.Rows {
		ds.Rows[i].Class = ClassifyScore(ds.Rows[i].Score, ds.Cuts)
	}
	return ds
}

// ClassifyScore assigns a resilience class from the tertile cut points.
func ClassifyScore(score float64, cuts [2]float64) int {
	switch {
	case score <= cuts[0]:
		return ClassLow
	case score <= cuts[1]:
		return ClassMedium
	default:
		return ClassHigh
	}
}

// Matrix returns the feature rows, class labels and scores.
func (ds ResilienceDataset) Matrix() ([][]float64, []int, []float64) {
	X := make([][]float64, len(ds.Rows))
	y := make([]int, len(ds.Rows))
	scores := make([]float64, len(ds.Rows))
	for i, r := range ds.Rows {
		X[i] = r.Features
		y[i] = r.Class
		scores[i] = r.Score
	}
	return X, y, scores
}

// minMax rescales xs to [0,1]; a constant column maps to 0.5.
func minMax(xs []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range xs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(xs))
	for i, v := range xs {
		if hi-lo <= 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
