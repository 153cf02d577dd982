// Package mock provides a deterministic embedder for tests. Vectors are
// built per token, so texts sharing words land measurably closer in cosine
// space than unrelated texts. No semantic quality is implied.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates deterministic token-mixed embeddings.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the given vector size; <= 0 selects 384
// to match all-MiniLM-L6-v2.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed sums a pseudo-random unit vector per lowercased token and normalizes
// the result. Identical input always yields the identical vector.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, m.dimensions)

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		for i := 0; i < m.dimensions; i++ {
			// LCG keeps per-token streams independent and repeatable.
			seed = seed*6364136223846793005 + 1442695040888963407
			embedding[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
