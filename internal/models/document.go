// Package models holds the data shapes that flow through the retrieval pipeline.
package models

import (
	"encoding/json"
	"maps"
)

// Document is a source text plus the metadata its loader attached to it.
type Document struct {
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata describes where a document came from.
// Extra carries loader-specific keys and is flattened into the JSON object.
type DocumentMetadata struct {
	Source string
	Type   string
	Extra  map[string]any
}

// MarshalJSON flattens Extra next to source and type; the named fields win on collision.
func (m DocumentMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	maps.Copy(out, m.Extra)
	out["source"] = m.Source
	out["type"] = m.Type
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *DocumentMetadata) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = DocumentMetadata{}
	m.Source, _ = raw["source"].(string)
	m.Type, _ = raw["type"].(string)
	delete(raw, "source")
	delete(raw, "type")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Chunk is one word window of a Document.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata is the parent metadata plus the chunk's position among its siblings.
type ChunkMetadata struct {
	Source      string
	Type        string
	ChunkID     int
	TotalChunks int
	Extra       map[string]any
}

// NewChunkMetadata copies parent into a chunk's metadata.
func NewChunkMetadata(parent DocumentMetadata, chunkID, total int) ChunkMetadata {
	var extra map[string]any
	if len(parent.Extra) > 0 {
		extra = maps.Clone(parent.Extra)
	}
	return ChunkMetadata{
		Source:      parent.Source,
		Type:        parent.Type,
		ChunkID:     chunkID,
		TotalChunks: total,
		Extra:       extra,
	}
}

// MarshalJSON writes parent keys first so that chunk_id and total_chunks
// take precedence over any parent key of the same name.
func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	maps.Copy(out, m.Extra)
	out["source"] = m.Source
	out["type"] = m.Type
	out["chunk_id"] = m.ChunkID
	out["total_chunks"] = m.TotalChunks
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = ChunkMetadata{}
	m.Source, _ = raw["source"].(string)
	m.Type, _ = raw["type"].(string)
	if v, ok := raw["chunk_id"].(float64); ok {
		m.ChunkID = int(v)
	}
	if v, ok := raw["total_chunks"].(float64); ok {
		m.TotalChunks = int(v)
	}
	for _, k := range []string{"source", "type", "chunk_id", "total_chunks"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// RetrievedChunk is a Chunk returned by the vector index.
// Score is the cosine distance to the query (lower is closer).
// KeywordScore is assigned by the reranker and never persisted.
type RetrievedChunk struct {
	Chunk
	Score        float64 `json:"score"`
	KeywordScore int     `json:"keyword_score"`
}
