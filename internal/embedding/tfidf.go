package embedding

import (
	"math"
	"sort"
)

// TFIDF weighs character n-grams by inverse document frequency over a fixed
// corpus. Vectors are L2-normalised. It is read-only after NewTFIDF.
type TFIDF struct {
	minN, maxN int
	vocab      map[string]int
	idf        []float64
}

// NewTFIDF fits a character n-gram model (minN..maxN) on docs. IDF is
// smoothed: ln((1+n)/(1+df)) + 1.
func NewTFIDF(docs []string, minN, maxN int) *TFIDF {
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		maxN = minN
	}
	df := map[string]int{}
	for _, d := range docs {
		seen := map[string]bool{}
		for _, g := range NGrams(d, minN, maxN) {
			if !seen[g] {
				seen[g] = true
				df[g]++
			}
		}
	}

	grams := make([]string, 0, len(df))
	for g := range df {
		grams = append(grams, g)
	}
	sort.Strings(grams)

	t := &TFIDF{minN: minN, maxN: maxN, vocab: make(map[string]int, len(grams)), idf: make([]float64, len(grams))}
	n := float64(len(docs))
	for i, g := range grams {
		t.vocab[g] = i
		t.idf[i] = math.Log((1+n)/(1+float64(df[g]))) + 1
	}
	return t
}

// Sparse returns the vector of text. N-grams outside the vocabulary are
// ignored.
func (t *TFIDF) Sparse(text string) Sparse {
	tf := map[int]float64{}
	for _, g := range NGrams(text, t.minN, t.maxN) {
		if i, ok := t.vocab[g]; ok {
			tf[i]++
		}
	}
	idx := make([]int, 0, len(tf))
	for i := range tf {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var sum float64
	for _, i := range idx {
		w := tf[i] * t.idf[i]
		tf[i] = w
		sum += w * w
	}
	out := make(Sparse, len(tf))
	if sum == 0 {
		return out
	}
	l2 := math.Sqrt(sum)
	for _, i := range idx {
		out[i] = float32(tf[i] / l2)
	}
	return out
}

// NGrams returns every character n-gram of s for n in [minN, maxN], in order
// of position then length.
func NGrams(s string, minN, maxN int) []string {
	r := []rune(s)
	var out []string
	for i := range r {
		for n := minN; n <= maxN && i+n <= len(r); n++ {
			out = append(out, string(r[i:i+n]))
		}
	}
	return out
}
