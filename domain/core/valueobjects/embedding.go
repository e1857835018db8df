package valueobjects

import "math"

// Embedding is a dense vector representation of text. Values are never
// modified in place once created; updates produce a new Embedding.
type Embedding []float32

// Cosine returns the cosine similarity of two embeddings clamped to [0,1].
// Mismatched dimensions or zero vectors yield 0.
func (e Embedding) Cosine(other Embedding) float64 {
	if len(e) == 0 || len(e) != len(other) {
		return 0
	}
	var dot, normA, normB float64
	for i := range e {
		a, b := float64(e[i]), float64(other[i])
		dot += a * b
		normA += a * a
		normB += b * b
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}

// IncrementalMean folds sample into e, where e is the mean of count earlier
// samples, and returns the new mean as a fresh vector.
func (e Embedding) IncrementalMean(sample Embedding, count int) Embedding {
	if len(e) == 0 || count <= 0 {
		return sample.Clone()
	}
	if len(sample) != len(e) {
		return e.Clone()
	}
	n := float32(count + 1)
	next := make(Embedding, len(e))
	for i := range e {
		next[i] = e[i] + (sample[i]-e[i])/n
	}
	return next
}

// Clone returns an independent copy of the vector.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}
