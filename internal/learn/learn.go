// Package learn implements the small supervised learners used by the
// forecasting ensembles: gradient-boosted trees, bagged trees and regularised
// linear models, plus feature scaling and evaluation helpers.
//
// Every learner is a plain struct with exported fields so a fitted model can be
// persisted as JSON and restored without refitting. Fitting is deterministic
// for a given Seed.
package learn

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty is returned when a learner is fitted on no rows.
	ErrEmpty = errors.New("no training rows")
	// ErrNotFitted is returned when a model is used before Fit.
	ErrNotFitted = errors.New("model not fitted")
)

// Regressor predicts a continuous target.
type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) float64
	Name() string
}

// QuantileRegressor predicts a fixed conditional quantile of the target.
type QuantileRegressor interface {
	Regressor
	Quantile() float64
}

// Classifier predicts a probability per class. Labels are 0..classes-1.
type Classifier interface {
	Fit(X [][]float64, y []int, classes int) error
	PredictProba(x []float64) []float64
	Name() string
}

func checkShape(X [][]float64, n int) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmpty
	}
	if len(X) != n {
		return 0, fmt.Errorf("rows %d and targets %d differ", len(X), n)
	}
	d := len(X[0])
	if d == 0 {
		return 0, errors.New("rows have no feature columns")
	}
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("row %d has %d columns, want %d", i, len(row), d)
		}
	}
	return d, nil
}

func checkLabels(y []int, classes int) error {
	if classes < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", classes)
	}
	for i, c := range y {
		if c < 0 || c >= classes {
			return fmt.Errorf("label %d at row %d out of range", c, i)
		}
	}
	return nil
}

// Softmax returns the normalised exponentials of z.
func Softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	if len(z) == 0 {
		return out
	}
	hi := z[0]
	for _, v := range z[1:] {
		hi = math.Max(hi, v)
	}
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

func oneHot(y []int, classes int) [][]float64 {
	out := make([][]float64, len(y))
	for i, c := range y {
		out[i] = make([]float64, classes)
		out[i][c] = 1
	}
	return out
}

func column(y []float64) [][]float64 {
	out := make([][]float64, len(y))
	for i, v := range y {
		out[i] = []float64{v}
	}
	return out
}

var (
	_ Regressor         = (*BoostedRegressor)(nil)
	_ QuantileRegressor = (*BoostedRegressor)(nil)
	_ Regressor         = (*ForestRegressor)(nil)
	_ QuantileRegressor = (*ForestQuantile)(nil)
	_ Regressor         = (*Ridge)(nil)
	_ QuantileRegressor = (*LinearQuantile)(nil)
	_ Classifier        = (*BoostedClassifier)(nil)
	_ Classifier        = (*ForestClassifier)(nil)
	_ Classifier        = (*Logistic)(nil)
)
