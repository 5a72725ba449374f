package learn

import (
	"math/rand/v2"
	"sort"
)

// Node is one node of a fitted tree. Leaves have Feature -1 and carry Value;
// internal nodes send x[Feature] <= Threshold to Left.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
}

// Tree is a binary regression tree stored as a flat node slice rooted at 0.
// Leaf values may be vectors (one entry per output).
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf returns the value of the leaf x falls into.
func (t Tree) Leaf(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// TreeConfig bounds tree growth. MaxFeatures 0 considers every feature.
type TreeConfig struct {
	MaxDepth       int `json:"max_depth"`
	MinSamplesLeaf int `json:"min_samples_leaf"`
	MaxFeatures    int `json:"max_features,omitempty"`
}

// leafFunc computes a leaf value from the rows that reach it.
type leafFunc func(rows []int) []float64

type treeBuilder struct {
	X       [][]float64
	targets [][]float64
	cfg     TreeConfig
	minLeaf int
	rng     *rand.Rand
	leaf    leafFunc
	nodes   []Node
	order   []int
}

// growTree fits a CART tree minimising the summed squared error over every
// target column. rng is only used to sample features and may be nil when
// MaxFeatures is 0.
func growTree(X, targets [][]float64, rows []int, cfg TreeConfig, rng *rand.Rand, leaf leafFunc) Tree {
	b := &treeBuilder{
		X:       X,
		targets: targets,
		cfg:     cfg,
		minLeaf: max(1, cfg.MinSamplesLeaf),
		rng:     rng,
		leaf:    leaf,
		order:   make([]int, len(X[0])),
	}
	for i := range b.order {
		b.order[i] = i
	}
	b.grow(rows, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	if depth < b.cfg.MaxDepth && len(rows) >= 2*b.minLeaf {
		if f, thr, ok := b.bestSplit(rows); ok {
			left, right := partition(b.X, rows, f, thr)
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[id] = Node{Feature: f, Threshold: thr, Left: l, Right: r}
			return id
		}
	}
	b.nodes[id].Value = b.leaf(rows)
	return id
}

func (b *treeBuilder) features() []int {
	d := len(b.order)
	k := b.cfg.MaxFeatures
	if k <= 0 || k >= d || b.rng == nil {
		return b.order
	}
	picked := make([]int, d)
	copy(picked, b.order)
	for i := 0; i < k; i++ {
		j := i + b.rng.IntN(d-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:k]
}

func (b *treeBuilder) bestSplit(rows []int) (int, float64, bool) {
	k := len(b.targets[rows[0]])
	total := make([]float64, k)
	var totalSq float64
	for _, r := range rows {
		for j, v := range b.targets[r] {
			total[j] += v
			totalSq += v * v
		}
	}
	n := float64(len(rows))
	best := totalSq - sumSquares(total)/n
	if best <= 1e-12 {
		return 0, 0, false
	}

	bestFeature, bestThreshold := -1, 0.0
	sorted := make([]int, len(rows))
	left := make([]float64, k)
	right := make([]float64, k)

	for _, f := range b.features() {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })
		clear(left)
		var leftSq float64

		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			for j, v := range b.targets[r] {
				left[j] += v
				leftSq += v * v
			}
			nl := i + 1
			nr := len(sorted) - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			lo, hi := b.X[r][f], b.X[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			for j := range right {
				right[j] = total[j] - left[j]
			}
			sse := leftSq - sumSquares(left)/float64(nl) + (totalSq - leftSq) - sumSquares(right)/float64(nr)
			if sse < best-1e-12 {
				best = sse
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func partition(X [][]float64, rows []int, f int, thr float64) (left, right []int) {
	for _, r := range rows {
		if X[r][f] <= thr {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

func sumSquares(xs []float64) float64 {
	var s float64
	for _, v := range xs {
		s += v * v
	}
	return s
}

// meanLeaf averages the target columns over rows.
func meanLeaf(targets [][]float64) leafFunc {
	return func(rows []int) []float64 {
		out := make([]float64, len(targets[rows[0]]))
		for _, r := range rows {
			for j, v := range targets[r] {
				out[j] += v
			}
		}
		for j := range out {
			out[j] /= float64(len(rows))
		}
		return out
	}
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
