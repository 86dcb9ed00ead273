// Package embeddings turns text into vectors for the vector index.
package embeddings

import (
	"context"
	"fmt"
	"time"
)

// Embedder produces a vector for a text. Implementations must be deterministic:
// the same text always maps to the same vector, at ingestion and at query time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name identifies the embedding function, e.g. "ollama:nomic-embed-text".
	Name() string
}

// Config selects and configures an Embedder.
type Config struct {
	Provider  string
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// New builds the Embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
