package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"policy-rag/internal/embeddings"
	"policy-rag/internal/models"
)

type storedChunk struct {
	id        string
	chunk     models.Chunk
	embedding []float32
}

// MemoryVectorStore is an in-process VectorIndex using exhaustive cosine search.
type MemoryVectorStore struct {
	embedder embeddings.Embedder
	chunks   []storedChunk
	byID     map[string]int
	mu       sync.RWMutex
}

var _ VectorIndex = (*MemoryVectorStore)(nil)

// NewMemoryVectorStore creates an empty store embedding with embedder.
func NewMemoryVectorStore(embedder embeddings.Embedder) *MemoryVectorStore {
	return &MemoryVectorStore{
		embedder: embedder,
		chunks:   make([]storedChunk, 0),
		byID:     make(map[string]int),
	}
}

// Upsert embeds and stores chunks. Stored chunks from the same sources are dropped first.
func (m *MemoryVectorStore) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	vectors, err := embedAll(ctx, m.embedder.Embed, chunks)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropSources(batchSources(chunks))
	for i, c := range chunks {
		sc := storedChunk{id: ChunkID(c), chunk: c, embedding: vectors[i]}
		if pos, ok := m.byID[sc.id]; ok {
			m.chunks[pos] = sc
			continue
		}
		m.byID[sc.id] = len(m.chunks)
		m.chunks = append(m.chunks, sc)
	}
	return len(chunks), nil
}

// dropSources removes the chunks of sources and reindexes byID. Callers hold mu.
func (m *MemoryVectorStore) dropSources(sources []string) {
	drop := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		drop[s] = struct{}{}
	}
	kept := m.chunks[:0]
	for _, sc := range m.chunks {
		if _, ok := drop[sc.chunk.Metadata.Source]; !ok {
			kept = append(kept, sc)
		}
	}
	clear(m.chunks[len(kept):])
	m.chunks = kept
	m.byID = make(map[string]int, len(kept))
	for i, sc := range kept {
		m.byID[sc.id] = i
	}
}

// Query returns up to topK chunks closest to text.
func (m *MemoryVectorStore) Query(ctx context.Context, text string, topK int) ([]models.RetrievedChunk, error) {
	return m.QueryFiltered(ctx, text, topK, nil)
}

// QueryFiltered is Query restricted to chunks accepted by filter. A nil filter accepts all.
func (m *MemoryVectorStore) QueryFiltered(ctx context.Context, text string, topK int, filter Filter) ([]models.RetrievedChunk, error) {
	if topK <= 0 || m.isEmpty() {
		return []models.RetrievedChunk{}, nil
	}

	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make([]models.RetrievedChunk, 0, len(m.chunks))
	for i := range m.chunks {
		sc := &m.chunks[i]
		if filter != nil && !filter(&sc.chunk) {
			continue
		}
		scores = append(scores, models.RetrievedChunk{
			Chunk: cloneChunk(sc.chunk),
			Score: CosineDistance(embedding, sc.embedding),
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score < scores[j].Score
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	return scores[:topK], nil
}

// Reset removes every stored chunk.
func (m *MemoryVectorStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make([]storedChunk, 0)
	m.byID = make(map[string]int)
	return nil
}

// Count returns the number of stored chunks.
func (m *MemoryVectorStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// Sources returns the number of stored chunks per source.
func (m *MemoryVectorStore) Sources(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, sc := range m.chunks {
		out[sc.chunk.Metadata.Source]++
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryVectorStore) Close() error {
	return nil
}

func (m *MemoryVectorStore) isEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks) == 0
}

func cloneChunk(c models.Chunk) models.Chunk {
	if c.Metadata.Extra != nil {
		c.Metadata.Extra = maps.Clone(c.Metadata.Extra)
	}
	return c
}
