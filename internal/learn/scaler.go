package learn

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// zeroVarianceTol absorbs rounding noise in the variance of constant columns.
const zeroVarianceTol = 1e-20

// Scaler standardises columns to zero mean and unit variance. Columns with
// zero variance keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns column means and population standard deviations.
func FitScaler(X [][]float64) (*Scaler, error) {
	d, err := checkShape(X, len(X))
	if err != nil {
		return nil, err
	}
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = 1
		if len(col) > 1 && variance > zeroVarianceTol*math.Max(1, mean*mean) {
			s.Scale[j] = math.Sqrt(variance)
		}
	}
	return s, nil
}

// Transform scales one row. Columns beyond the fitted width pass through.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j >= len(s.Mean) {
			out[j] = v
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformAll scales every row.
func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}

// Width is the number of columns the scaler was fitted on.
func (s *Scaler) Width() int { return len(s.Mean) }
