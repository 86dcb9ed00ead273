// Package storage provides vector index implementations for document chunks.
package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	"policy-rag/internal/models"
)

// VectorIndex stores chunks with their embeddings and answers nearest-neighbour queries.
//
// Query results are ordered by ascending cosine distance in [0, 2]. An empty index
// yields an empty result, not an error. Reset clears every stored vector and is
// serialized against all other calls. If a Reset cannot recreate the index, every
// later call fails with ErrIndexUnavailable until a Reset succeeds.
//
// Upsert replaces documents, not single chunks: every stored chunk whose source
// appears in the batch is removed before the batch is written.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []models.Chunk) (int, error)
	Query(ctx context.Context, text string, topK int) ([]models.RetrievedChunk, error)
	QueryFiltered(ctx context.Context, text string, topK int, filter Filter) ([]models.RetrievedChunk, error)
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	// Sources returns the number of stored chunks per document source.
	Sources(ctx context.Context) (map[string]int, error)
	Close() error
}

// Filter reports whether a stored chunk may be returned.
type Filter func(*models.Chunk) bool

// SourceFilter accepts chunks whose source is one of sources. No sources accepts everything.
func SourceFilter(sources ...string) Filter {
	if len(sources) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		allowed[s] = struct{}{}
	}
	return func(c *models.Chunk) bool {
		_, ok := allowed[c.Metadata.Source]
		return ok
	}
}

// chunkNamespace scopes the name-based chunk ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("policy-rag/chunk"))

// ChunkID returns the stable id of a chunk, derived from its source and position.
func ChunkID(c models.Chunk) string {
	name := c.Metadata.Source + "#" + strconv.Itoa(c.Metadata.ChunkID)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// batchSources returns the distinct sources of chunks in first-seen order.
func batchSources(chunks []models.Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var out []string
	for _, c := range chunks {
		if _, ok := seen[c.Metadata.Source]; ok {
			continue
		}
		seen[c.Metadata.Source] = struct{}{}
		out = append(out, c.Metadata.Source)
	}
	return out
}

// CosineDistance returns 1 - cosine similarity. Vectors of different length or zero norm
// are treated as orthogonal.
func CosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}

func embedAll(ctx context.Context, embed func(context.Context, string) ([]float32, error), chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d of %s: %w", c.Metadata.ChunkID, c.Metadata.Source, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}
