package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaClient generates text with a local Ollama server.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	client      *http.Client
}

// NewOllamaClient creates a client for baseURL and model.
func NewOllamaClient(baseURL, model string, temperature float32, maxTokens int) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaClient{
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{},
	}
}

// Model returns the Ollama model name.
func (o *OllamaClient) Model() string {
	return o.model
}

// Generate runs a non-streaming /api/generate call.
func (o *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", transportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", transportError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", transportError(fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body)))
	}

	var result struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", transportError(fmt.Errorf("invalid ollama response: %w", err))
	}
	if result.Error != "" {
		return "", transportError(fmt.Errorf("ollama: %s", result.Error))
	}

	return result.Response, nil
}
