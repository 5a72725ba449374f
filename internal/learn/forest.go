package learn

import (
	"fmt"
	"math"
)

// ForestConfig holds bagged-tree hyperparameters. MaxFeatures 0 samples
// sqrt(d) features per split.
type ForestConfig struct {
	Trees          int    `json:"trees" mapstructure:"trees"`
	MaxDepth       int    `json:"max_depth" mapstructure:"max_depth"`
	MinSamplesLeaf int    `json:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	MaxFeatures    int    `json:"max_features" mapstructure:"max_features"`
	Seed           uint64 `json:"seed" mapstructure:"seed"`
}

// DefaultForestConfig returns the ensemble's forest settings.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 200, MaxDepth: 10, MinSamplesLeaf: 2, Seed: 42}
}

func (c ForestConfig) treeConfig(d int) TreeConfig {
	mf := c.MaxFeatures
	if mf <= 0 {
		mf = max(1, int(math.Sqrt(float64(d))))
	}
	return TreeConfig{MaxDepth: c.MaxDepth, MinSamplesLeaf: c.MinSamplesLeaf, MaxFeatures: mf}
}

// growForest fits c.Trees trees on bootstrap resamples of the rows.
func growForest(c ForestConfig, X, targets [][]float64) ([]Tree, error) {
	if c.Trees <= 0 {
		return nil, fmt.Errorf("forest needs a positive tree count, got %d", c.Trees)
	}
	if c.MaxDepth <= 0 {
		return nil, fmt.Errorf("forest needs a positive max depth, got %d", c.MaxDepth)
	}
	n := len(X)
	rng := newRand(c.Seed)
	tc := c.treeConfig(len(X[0]))
	leaf := meanLeaf(targets)

	trees := make([]Tree, 0, c.Trees)
	sample := make([]int, n)
	for t := 0; t < c.Trees; t++ {
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		trees = append(trees, growTree(X, targets, sample, tc, rng, leaf))
	}
	return trees, nil
}

// ForestRegressor averages bagged regression trees.
type ForestRegressor struct {
	Config ForestConfig `json:"config"`
	Trees  []Tree       `json:"trees"`
}

// NewForestRegressor returns an unfitted forest.
func NewForestRegressor(cfg ForestConfig) *ForestRegressor {
	return &ForestRegressor{Config: cfg}
}

func (m *ForestRegressor) Name() string { return "forest" }

func (m *ForestRegressor) Fit(X [][]float64, y []float64) error {
	if _, err := checkShape(X, len(y)); err != nil {
		return err
	}
	trees, err := growForest(m.Config, X, column(y))
	if err != nil {
		return err
	}
	m.Trees = trees
	return nil
}

func (m *ForestRegressor) Predict(x []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range m.Trees {
		sum += t.Leaf(x)[0]
	}
	return sum / float64(len(m.Trees))
}

// treePredictions returns each tree's prediction for x.
func (m *ForestRegressor) treePredictions(x []float64) []float64 {
	out := make([]float64, len(m.Trees))
	for i, t := range m.Trees {
		out[i] = t.Leaf(x)[0]
	}
	return out
}

// ForestQuantile predicts a percentile of the per-tree predictions.
type ForestQuantile struct {
	ForestRegressor
	Q float64 `json:"q"`
}

// NewForestQuantile returns an unfitted quantile forest for level q.
func NewForestQuantile(cfg ForestConfig, q float64) *ForestQuantile {
	return &ForestQuantile{ForestRegressor: ForestRegressor{Config: cfg}, Q: q}
}

func (m *ForestQuantile) Name() string { return fmt.Sprintf("forest_q%02.0f", m.Q*100) }

func (m *ForestQuantile) Quantile() float64 { return m.Q }

func (m *ForestQuantile) Predict(x []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	return Percentile(m.treePredictions(x), m.Q*100)
}

// ForestClassifier averages the class distributions of bagged trees.
type ForestClassifier struct {
	Config  ForestConfig `json:"config"`
	Classes int          `json:"classes"`
	Trees   []Tree       `json:"trees"`
}

// NewForestClassifier returns an unfitted forest classifier.
func NewForestClassifier(cfg ForestConfig) *ForestClassifier {
	return &ForestClassifier{Config: cfg}
}

func (m *ForestClassifier) Name() string { return "forest" }

func (m *ForestClassifier) Fit(X [][]float64, y []int, classes int) error {
	if _, err := checkShape(X, len(y)); err != nil {
		return err
	}
	if err := checkLabels(y, classes); err != nil {
		return err
	}
	trees, err := growForest(m.Config, X, oneHot(y, classes))
	if err != nil {
		return err
	}
	m.Classes = classes
	m.Trees = trees
	return nil
}

func (m *ForestClassifier) PredictProba(x []float64) []float64 {
	out := make([]float64, m.Classes)
	if len(m.Trees) == 0 {
		return out
	}
	for _, t := range m.Trees {
		for k, v := range t.Leaf(x) {
			out[k] += v
		}
	}
	for k := range out {
		out[k] /= float64(len(m.Trees))
	}
	return out
}
