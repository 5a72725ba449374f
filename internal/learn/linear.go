package learn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Ridge is L2-regularised least squares solved through the normal equations.
// The intercept is not penalised.
type Ridge struct {
	Alpha     float64   `json:"alpha"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// NewRidge returns an unfitted ridge model.
func NewRidge(alpha float64) *Ridge { return &Ridge{Alpha: alpha} }

func (m *Ridge) Name() string { return "ridge" }

func (m *Ridge) Fit(X [][]float64, y []float64) error {
	d, err := checkShape(X, len(y))
	if err != nil {
		return err
	}
	n := len(X)

	means := make([]float64, d)
	col := make([]float64, n)
	for j := range means {
		for i, row := range X {
			col[i] = row[j]
		}
		means[j] = stat.Mean(col, nil)
	}
	yMean := stat.Mean(y, nil)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-means[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for j := 0; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+m.Alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var w mat.VecDense
	if err := w.SolveVec(&gram, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("solve normal equations: %w", err)
		}
	}

	m.Weights = make([]float64, d)
	for j := range m.Weights {
		m.Weights[j] = w.AtVec(j)
	}
	m.Intercept = yMean - floats.Dot(m.Weights, means)
	return nil
}

func (m *Ridge) Predict(x []float64) float64 {
	return m.Intercept + floats.Dot(m.Weights, x)
}

// LinearQuantile shifts a ridge fit by the empirical q-quantile of its
// training residuals.
type LinearQuantile struct {
	Ridge  Ridge   `json:"ridge"`
	Q      float64 `json:"q"`
	Offset float64 `json:"offset"`
}

// NewLinearQuantile returns an unfitted linear quantile model.
func NewLinearQuantile(alpha, q float64) *LinearQuantile {
	return &LinearQuantile{Ridge: Ridge{Alpha: alpha}, Q: q}
}

func (m *LinearQuantile) Name() string { return fmt.Sprintf("linear_q%02.0f", m.Q*100) }

func (m *LinearQuantile) Quantile() float64 { return m.Q }

func (m *LinearQuantile) Fit(X [][]float64, y []float64) error {
	if m.Q <= 0 || m.Q >= 1 {
		return fmt.Errorf("quantile %g outside (0,1)", m.Q)
	}
	if err := m.Ridge.Fit(X, y); err != nil {
		return err
	}
	resid := make([]float64, len(y))
	for i, x := range X {
		resid[i] = y[i] - m.Ridge.Predict(x)
	}
	m.Offset = Percentile(resid, m.Q*100)
	return nil
}

func (m *LinearQuantile) Predict(x []float64) float64 {
	return m.Ridge.Predict(x) + m.Offset
}

// LogisticConfig holds multinomial logistic regression settings.
type LogisticConfig struct {
	L2           float64 `json:"l2" mapstructure:"l2"`
	Iterations   int     `json:"iterations" mapstructure:"iterations"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`
}

// DefaultLogisticConfig returns settings suited to standardised inputs.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{L2: 0.01, Iterations: 500, LearningRate: 0.5}
}

// Logistic is multinomial logistic regression with an L2 penalty, fitted by
// full-batch gradient descent from zero weights.
type Logistic struct {
	Config  LogisticConfig `json:"config"`
	Classes int            `json:"classes"`
	Weights [][]float64    `json:"weights"`
	Bias    []float64      `json:"bias"`
}

// NewLogistic returns an unfitted logistic model.
func NewLogistic(cfg LogisticConfig) *Logistic { return &Logistic{Config: cfg} }

func (m *Logistic) Name() string { return "logistic" }

func (m *Logistic) Fit(X [][]float64, y []int, classes int) error {
	d, err := checkShape(X, len(y))
	if err != nil {
		return err
	}
	if err := checkLabels(y, classes); err != nil {
		return err
	}
	if m.Config.Iterations <= 0 || m.Config.LearningRate <= 0 {
		return fmt.Errorf("logistic needs positive iterations and learning rate")
	}

	m.Classes = classes
	m.Weights = make([][]float64, classes)
	gradW := make([][]float64, classes)
	for k := range m.Weights {
		m.Weights[k] = make([]float64, d)
		gradW[k] = make([]float64, d)
	}
	m.Bias = make([]float64, classes)
	gradB := make([]float64, classes)

	n := float64(len(X))
	lr := m.Config.LearningRate
	for it := 0; it < m.Config.Iterations; it++ {
		for k := range gradW {
			clear(gradW[k])
		}
		clear(gradB)

		for i, x := range X {
			p := m.PredictProba(x)
			p[y[i]]--
			for k, e := range p {
				floats.AddScaled(gradW[k], e, x)
				gradB[k] += e
			}
		}

		for k := range m.Weights {
			for j := range m.Weights[k] {
				m.Weights[k][j] -= lr * (gradW[k][j]/n + m.Config.L2*m.Weights[k][j])
			}
			m.Bias[k] -= lr * gradB[k] / n
		}
	}
	return nil
}

func (m *Logistic) PredictProba(x []float64) []float64 {
	z := make([]float64, m.Classes)
	for k := range z {
		z[k] = m.Bias[k] + floats.Dot(m.Weights[k], x)
	}
	return Softmax(z)
}
