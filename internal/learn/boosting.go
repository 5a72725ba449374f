package learn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Regression losses for BoostedRegressor.
const (
	LossSquared  = "squared"
	LossQuantile = "quantile"
)

// BoostingConfig holds gradient boosting hyperparameters.
type BoostingConfig struct {
	Iterations     int     `json:"iterations" mapstructure:"iterations"`
	LearningRate   float64 `json:"learning_rate" mapstructure:"learning_rate"`
	MaxDepth       int     `json:"max_depth" mapstructure:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	L2             float64 `json:"l2" mapstructure:"l2"`
}

// DefaultBoostingConfig mirrors the production regressor settings.
func DefaultBoostingConfig() BoostingConfig {
	return BoostingConfig{
		Iterations:     500,
		LearningRate:   0.05,
		MaxDepth:       5,
		MinSamplesLeaf: 20,
		L2:             0.5,
	}
}

func (c BoostingConfig) tree() TreeConfig {
	return TreeConfig{MaxDepth: c.MaxDepth, MinSamplesLeaf: c.MinSamplesLeaf}
}

func (c BoostingConfig) validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("boosting iterations must be positive, got %d", c.Iterations)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("boosting learning rate must be positive, got %g", c.LearningRate)
	}
	return nil
}

// BoostedRegressor is gradient boosting over CART trees with squared or
// pinball loss.
type BoostedRegressor struct {
	Config BoostingConfig `json:"config"`
	Loss   string         `json:"loss"`
	Alpha  float64        `json:"alpha,omitempty"`
	Init   float64        `json:"init"`
	Trees  []Tree         `json:"trees"`
}

// NewBoostedRegressor returns a squared-loss booster.
func NewBoostedRegressor(cfg BoostingConfig) *BoostedRegressor {
	return &BoostedRegressor{Config: cfg, Loss: LossSquared}
}

// NewBoostedQuantile returns a booster for the q-th conditional quantile.
func NewBoostedQuantile(cfg BoostingConfig, q float64) *BoostedRegressor {
	return &BoostedRegressor{Config: cfg, Loss: LossQuantile, Alpha: q}
}

func (m *BoostedRegressor) Name() string {
	if m.Loss == LossQuantile {
		return fmt.Sprintf("boosted_q%02.0f", m.Alpha*100)
	}
	return "boosted"
}

// Quantile returns the fitted quantile level, or 0.5 for squared loss.
func (m *BoostedRegressor) Quantile() float64 {
	if m.Loss == LossQuantile {
		return m.Alpha
	}
	return 0.5
}

func (m *BoostedRegressor) Fit(X [][]float64, y []float64) error {
	if _, err := checkShape(X, len(y)); err != nil {
		return err
	}
	if err := m.Config.validate(); err != nil {
		return err
	}
	quantile := m.Loss == LossQuantile
	if quantile && (m.Alpha <= 0 || m.Alpha >= 1) {
		return fmt.Errorf("quantile %g outside (0,1)", m.Alpha)
	}

	if quantile {
		m.Init = Percentile(y, m.Alpha*100)
	} else {
		m.Init = stat.Mean(y, nil)
	}

	n := len(y)
	rows := indices(n)
	pred := make([]float64, n)
	resid := make([]float64, n)
	grad := make([][]float64, n)
	for i := range pred {
		pred[i] = m.Init
		grad[i] = make([]float64, 1)
	}

	var leaf leafFunc
	if quantile {
		leaf = func(idx []int) []float64 {
			vals := make([]float64, len(idx))
			for i, r := range idx {
				vals[i] = resid[r]
			}
			return []float64{Percentile(vals, m.Alpha*100)}
		}
	} else {
		leaf = func(idx []int) []float64 {
			var sum float64
			for _, r := range idx {
				sum += resid[r]
			}
			return []float64{sum / (float64(len(idx)) + m.Config.L2)}
		}
	}

	m.Trees = make([]Tree, 0, m.Config.Iterations)
	for it := 0; it < m.Config.Iterations; it++ {
		for i := range y {
			resid[i] = y[i] - pred[i]
			switch {
			case !quantile:
				grad[i][0] = resid[i]
			case resid[i] > 0:
				grad[i][0] = m.Alpha
			default:
				grad[i][0] = m.Alpha - 1
			}
		}
		tree := growTree(X, grad, rows, m.Config.tree(), nil, leaf)
		for i, x := range X {
			pred[i] += m.Config.LearningRate * tree.Leaf(x)[0]
		}
		m.Trees = append(m.Trees, tree)
	}
	return nil
}

func (m *BoostedRegressor) Predict(x []float64) float64 {
	out := m.Init
	for _, t := range m.Trees {
		out += m.Config.LearningRate * t.Leaf(x)[0]
	}
	return out
}

// BoostedClassifier is multinomial gradient boosting: one multi-output tree
// per iteration fitted to the softmax residuals of every class.
type BoostedClassifier struct {
	Config  BoostingConfig `json:"config"`
	Classes int            `json:"classes"`
	Init    []float64      `json:"init"`
	Trees   []Tree         `json:"trees"`
}

// NewBoostedClassifier returns an unfitted multinomial booster.
func NewBoostedClassifier(cfg BoostingConfig) *BoostedClassifier {
	return &BoostedClassifier{Config: cfg}
}

func (m *BoostedClassifier) Name() string { return "boosted" }

func (m *BoostedClassifier) Fit(X [][]float64, y []int, classes int) error {
	if _, err := checkShape(X, len(y)); err != nil {
		return err
	}
	if err := checkLabels(y, classes); err != nil {
		return err
	}
	if err := m.Config.validate(); err != nil {
		return err
	}

	n := len(y)
	m.Classes = classes
	m.Init = make([]float64, classes)
	for _, c := range y {
		m.Init[c]++
	}
	for k := range m.Init {
		m.Init[k] = math.Log(math.Max(m.Init[k]/float64(n), 1e-12))
	}

	target := oneHot(y, classes)
	scores := make([][]float64, n)
	resid := make([][]float64, n)
	for i := range scores {
		scores[i] = append([]float64(nil), m.Init...)
		resid[i] = make([]float64, classes)
	}

	kf := float64(classes)
	leaf := func(idx []int) []float64 {
		out := make([]float64, classes)
		for k := range out {
			var num, den float64
			for _, r := range idx {
				g := resid[r][k]
				num += g
				den += math.Abs(g) * (1 - math.Abs(g))
			}
			den += m.Config.L2
			if den < 1e-150 {
				continue
			}
			out[k] = (kf - 1) / kf * num / den
		}
		return out
	}

	rows := indices(n)
	m.Trees = make([]Tree, 0, m.Config.Iterations)
	for it := 0; it < m.Config.Iterations; it++ {
		for i := range scores {
			p := Softmax(scores[i])
			for k := range p {
				resid[i][k] = target[i][k] - p[k]
			}
		}
		tree := growTree(X, resid, rows, m.Config.tree(), nil, leaf)
		for i, x := range X {
			for k, v := range tree.Leaf(x) {
				scores[i][k] += m.Config.LearningRate * v
			}
		}
		m.Trees = append(m.Trees, tree)
	}
	return nil
}

func (m *BoostedClassifier) PredictProba(x []float64) []float64 {
	scores := append([]float64(nil), m.Init...)
	for _, t := range m.Trees {
		for k, v := range t.Leaf(x) {
			scores[k] += m.Config.LearningRate * v
		}
	}
	return Softmax(scores)
}
