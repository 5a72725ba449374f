package learn

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// R2 is the coefficient of determination of pred against truth. A constant
// truth vector yields 0.
func R2(truth, pred []float64) float64 {
	if len(truth) == 0 || len(truth) != len(pred) {
		return 0
	}
	if _, v := stat.PopMeanVariance(truth, nil); !(v > 0) {
		return 0
	}
	return stat.RSquaredFrom(pred, truth, nil)
}

// Accuracy is the share of matching labels.
func Accuracy(truth, pred []int) float64 {
	if len(truth) == 0 || len(truth) != len(pred) {
		return 0
	}
	var hit int
	for i := range truth {
		if truth[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}

// Entropy is the Shannon entropy (nats) of a probability vector.
func Entropy(p []float64) float64 {
	return stat.Entropy(p)
}

// Percentile returns the p-th percentile (0..100) of xs with linear
// interpolation between closest ranks. xs is not modified.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	p = math.Min(math.Max(p, 0), 100)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Coverage is the share of truth values inside [lower, upper].
func Coverage(truth, lower, upper []float64) float64 {
	if len(truth) == 0 {
		return 0
	}
	var in int
	for i, v := range truth {
		if v >= lower[i] && v <= upper[i] {
			in++
		}
	}
	return float64(in) / float64(len(truth))
}
