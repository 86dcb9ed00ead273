// Package api provides E2E/functional tests for the API endpoints
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"policy-rag/internal/embeddings"
	"policy-rag/internal/metrics"
	"policy-rag/internal/models"
	"policy-rag/internal/pipeline"
	"policy-rag/internal/querylog"
	"policy-rag/internal/storage"
)

// E2E/Functional Tests - run the real pipeline behind the HTTP API

type MockGenerator struct {
	mu       sync.Mutex
	response string
}

func (m *MockGenerator) SetResponse(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = r
}

func (m *MockGenerator) Generate(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.response, nil
}

func (m *MockGenerator) Model() string { return "mock" }

const e2eToken = "e2e-token"

func createE2EServer(t *testing.T) (*Server, *MockGenerator) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "queries.jsonl")
	ql, err := querylog.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}

	gen := &MockGenerator{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, err := pipeline.New(
		storage.NewMemoryVectorStore(embeddings.NewHashEmbedder(256)),
		gen, ql, pipeline.Options{},
		pipeline.WithMetrics(m), pipeline.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })

	server := NewServer(p, Config{APIToken: e2eToken, Backend: "memory", QueryLogPath: logPath},
		WithMetrics(m, reg), WithLogger(quietLogger()))
	return server, gen
}

func TestE2E_EmptyIndexRefusal(t *testing.T) {
	server, _ := createE2EServer(t)

	w := doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "How many vacation days?"}, e2eToken)
	if w.Code != http.StatusOK {
		t.Fatalf("Query failed: %d %s", w.Code, w.Body.String())
	}

	var response models.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Answer != models.RefusalAnswer || response.Confidence != models.ConfidenceLow {
		t.Errorf("unexpected response %+v", response)
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if chunks, ok := raw["retrieved_chunks"].([]any); !ok || len(chunks) != 0 {
		t.Errorf("retrieved_chunks should be an empty list: %s", w.Body.String())
	}

	w = doRequest(server, http.MethodGet, "/stats", nil, e2eToken)
	var dist struct {
		TotalQueries int `json:"total_queries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &dist); err != nil {
		t.Fatal(err)
	}
	if dist.TotalQueries != 1 {
		t.Errorf("Expected the refusal to be logged, got %d queries", dist.TotalQueries)
	}
}

func TestE2E_IngestQueryWorkflow(t *testing.T) {
	server, gen := createE2EServer(t)

	ingest := models.IngestRequest{Documents: []models.Document{
		{Text: "Full-time employees receive 20 vacation days per calendar year.", Metadata: models.DocumentMetadata{Source: "leave.pdf", Type: "pdf"}},
		{Text: "Remote work is allowed up to two days per week.", Metadata: models.DocumentMetadata{Source: "remote.md", Type: "md"}},
	}}
	w := doRequest(server, http.MethodPost, "/documents", ingest, e2eToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to ingest documents: %d %s", w.Code, w.Body.String())
	}

	w = doRequest(server, http.MethodGet, "/documents", nil, e2eToken)
	var status models.IndexStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Count != 2 || status.Backend != "memory" {
		t.Errorf("unexpected index status %+v", status)
	}

	gen.SetResponse(`{"answer": "20 days.", "evidence": ["employees receive 20 vacation days"], "confidence": "High"}`)
	w = doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "How many vacation days do employees receive?"}, e2eToken)
	if w.Code != http.StatusOK {
		t.Fatalf("Query failed: %d %s", w.Code, w.Body.String())
	}
	var response models.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Answer != "20 days." || response.Evaluation.Groundedness != models.FlagOK {
		t.Errorf("unexpected response %+v", response)
	}
	if len(response.RetrievedChunks) != 2 || response.RetrievedChunks[0].Metadata.Source != "leave.pdf" {
		t.Errorf("unexpected retrieved chunks %+v", response.RetrievedChunks)
	}

	w = doRequest(server, http.MethodPost, "/index/reset", nil, e2eToken)
	if w.Code != http.StatusOK {
		t.Fatalf("Reset failed: %d", w.Code)
	}
	w = doRequest(server, http.MethodGet, "/documents", nil, e2eToken)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Count != 0 {
		t.Errorf("Expected empty index after reset, got %d", status.Count)
	}
}

func TestE2E_InvalidPromptType(t *testing.T) {
	server, _ := createE2EServer(t)

	w := doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "q", PromptType: "fancy"}, e2eToken)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown prompt type, got %d", w.Code)
	}
}

func TestE2E_Metrics(t *testing.T) {
	server, _ := createE2EServer(t)

	doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "anything"}, e2eToken)

	w := doRequest(server, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Metrics endpoint failed: %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`policyrag_queries_total{confidence="Low",outcome="empty_retrieval",prompt_type="improved"} 1`,
		`policyrag_http_requests_total`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestE2E_ConcurrentQueries(t *testing.T) {
	server, gen := createE2EServer(t)
	gen.SetResponse(`{"answer": "ok", "evidence": [], "confidence": "Medium"}`)

	ingest := models.IngestRequest{Documents: []models.Document{{Text: "Remote work is allowed.", Metadata: models.DocumentMetadata{Source: "remote.md"}}}}
	if w := doRequest(server, http.MethodPost, "/documents", ingest, e2eToken); w.Code != http.StatusCreated {
		t.Fatalf("Failed to ingest: %d", w.Code)
	}

	var wg sync.WaitGroup
	codes := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "Is remote work allowed?"}, e2eToken)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusOK {
			t.Errorf("concurrent query failed with %d", code)
		}
	}
}

func TestE2E_NotFound(t *testing.T) {
	server, _ := createE2EServer(t)

	w := doRequest(server, http.MethodGet, "/nonexistent", nil, e2eToken)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
