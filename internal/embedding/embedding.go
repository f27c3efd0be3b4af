// Package embedding turns names into term-frequency vectors for similarity
// scoring.
package embedding

import (
	"math"
	"sort"
)

// Sparse is a vector keyed by feature index. Zero entries are absent.
type Sparse map[int]float32

// SparseCosine computes cosine similarity between two sparse vectors.
func SparseCosine(a, b Sparse) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for _, i := range a.keys() {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := a.norm(), b.norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func (s Sparse) norm() float64 {
	var sum float64
	for _, i := range s.keys() {
		sum += float64(s[i]) * float64(s[i])
	}
	return math.Sqrt(sum)
}

// keys returns the feature indexes in ascending order so sums do not depend
// on map iteration order.
func (s Sparse) keys() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
