package embedding

import (
	"context"
	"math"

	"github.com/zeebo/xxh3"
)

// Hash is a deterministic, offline embedder: the same text always yields the
// same unit vector. It carries no semantics and serves dry runs and tests.
type Hash struct{ dims int }

// NewHash returns a Hash embedder of the given dimension.
func NewHash(dims int) *Hash { return &Hash{dims: dims} }

// Dimensions returns the vector length.
func (h *Hash) Dimensions() int { return h.dims }

// EmbedTexts never fails unless ctx is done.
func (h *Hash) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.dims)
	}
	return out, nil
}

// hashVector seeds unitVector with the xxh3 hash of text.
func hashVector(text string, dim int) []float32 {
	return unitVector(xxh3.HashString(text), dim)
}

// unitVector fills dim components from a 64-bit LCG started at seed and
// L2-normalizes the result.
func unitVector(seed uint64, dim int) []float32 {
	v := make([]float32, dim)
	var sum float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		x := float64(seed>>11)/(1<<53)*2 - 1
		v[i] = float32(x)
		sum += x * x
	}
	if sum > 0 {
		inv := 1 / math.Sqrt(sum)
		for i := range v {
			v[i] = float32(float64(v[i]) * inv)
		}
	}
	return v
}
