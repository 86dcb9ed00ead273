package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector size of the hash embedder.
const DefaultHashDimension = 384

// HashEmbedder maps lower-cased words into a fixed number of buckets (the hashing trick)
// and L2-normalises the result. It needs no model and is fully deterministic, which makes
// it the offline default. Texts sharing words get a small cosine distance.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hash embedder with dim dimensions.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Name returns the embedding function name including its dimension.
func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash:%d", e.dim)
}

// Dimension returns the vector size.
func (e *HashEmbedder) Dimension() int {
	return e.dim
}

// Embed never fails.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		// the high bit picks the sign so unrelated words tend to cancel out
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// no tokens: a fixed unit vector keeps cosine distance defined
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
