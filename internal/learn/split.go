package learn

import "math"

// TrainValSplit shuffles 0..n-1 with seed and holds out ceil(n*valFrac) rows
// for validation. At least one row always stays in training.
func TrainValSplit(n int, valFrac float64, seed uint64) (train, val []int) {
	if n <= 0 {
		return nil, nil
	}
	perm := newRand(seed).Perm(n)
	nVal := int(math.Ceil(float64(n) * valFrac))
	nVal = min(max(nVal, 0), n-1)
	return perm[nVal:], perm[:nVal]
}

// Rows selects rows of X by index.
func Rows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = X[r]
	}
	return out
}

// Values selects entries of y by index.
func Values[T any](y []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
