// Package llm calls the hosted language model: prompt in, text out.
package llm

import (
	"context"
	"fmt"
	"time"

	apperrors "policy-rag/internal/errors"
)

// Request defaults sent with every generation.
const (
	DefaultTemperature = 0.0
	DefaultMaxTokens   = 1024
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama-3.1-8b-instant"
)

// Generator produces the model's raw text for a finished prompt.
// Every error it returns wraps ErrTransportFailure. It never retries.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Request is what is sent to the model.
type Request struct {
	ModelID     string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Config selects and configures a Generator.
type Config struct {
	Provider    string // "groq", "openai" or "ollama"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	Breaker BreakerConfig
}

// New builds the Generator for cfg, wrapped in a circuit breaker when enabled.
func New(cfg Config) (Generator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var g Generator
	switch cfg.Provider {
	case "", "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultGroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultGroqModel
		}
		client, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		g = client
	case "openai":
		client, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		g = client
	case "ollama":
		g = NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, apperrors.ErrInvalidConfiguration.WithCause(fmt.Errorf("unknown llm provider %q", cfg.Provider))
	}

	if cfg.Timeout > 0 {
		g = WithTimeout(g, cfg.Timeout)
	}
	if cfg.Breaker.Enabled {
		g = NewBreakerGenerator(g, cfg.Breaker)
	}
	return g, nil
}

func transportError(err error) error {
	return apperrors.ErrTransportFailure.WithCause(err)
}

type timeoutGenerator struct {
	Generator
	timeout time.Duration
}

// WithTimeout bounds every Generate call of g by d.
func WithTimeout(g Generator, d time.Duration) Generator {
	return &timeoutGenerator{Generator: g, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Generator.Generate(ctx, prompt)
}
