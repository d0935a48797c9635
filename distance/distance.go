// Package distance provides the vector similarity math used by hybrid search.
package distance

import "math"

// Cosine calculates the cosine similarity of two vectors.
//
// Vectors of unequal length are compared over the shorter prefix; historic
// index files may carry embeddings from models with different dimensions.
// A zero denominator (empty or all-zero input) yields 0 rather than NaN.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
