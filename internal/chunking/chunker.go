// Package chunking splits documents into overlapping word windows.
package chunking

import (
	"fmt"
	"strings"

	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/models"
)

// Default window parameters, in words.
const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// Validate checks that a window of size words advancing by size-overlap can make progress.
func Validate(size, overlap int) error {
	if size <= 0 {
		return apperrors.ErrInvalidConfiguration.WithCause(fmt.Errorf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return apperrors.ErrInvalidConfiguration.WithCause(
			fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap))
	}
	return nil
}

// ChunkText splits text into windows of size words, each sharing overlap words with the previous one.
// Text with at most size words is returned unchanged as a single chunk.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) <= size {
		return []string{text}, nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(words)-overlap+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// ChunkDocuments chunks every document and stamps chunk_id and total_chunks on the results.
// Parent metadata is copied into each chunk.
func ChunkDocuments(docs []models.Document, size, overlap int) ([]models.Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	var out []models.Chunk
	for _, doc := range docs {
		texts, err := ChunkText(doc.Text, size, overlap)
		if err != nil {
			return nil, err
		}
		for i, text := range texts {
			out = append(out, models.Chunk{
				Text:     text,
				Metadata: models.NewChunkMetadata(doc.Metadata, i, len(texts)),
			})
		}
	}
	return out, nil
}
