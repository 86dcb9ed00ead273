package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"

	apperrors "policy-rag/internal/errors"
)

// OpenAIClient talks to an OpenAI-compatible chat completions API such as Groq.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIClient creates a client. An API key is required.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.ErrMissingCredential.WithMessage("LLM API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Model returns the model id sent with each request.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Complete(ctx, Request{
		ModelID:     c.model,
		Prompt:      prompt,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
}

// Complete sends req as is.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		// the request field is omitempty; a zero would fall back to the server default
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", transportError(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", transportError(fmt.Errorf("chat completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
