package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/models"
)

// Mock implementations for testing

type MockService struct {
	mu         sync.Mutex
	documents  []models.Document
	response   *models.QueryResponse
	lastQuery  models.QueryRequest
	queryErr   error
	shouldFail bool
	resets     int
}

func NewMockService() *MockService {
	return &MockService{
		response: &models.QueryResponse{
			Answer:          "Employees receive 20 vacation days.",
			Evidence:        []string{"20 vacation days"},
			Confidence:      models.ConfidenceHigh,
			RetrievedChunks: []models.RetrievedChunk{},
		},
	}
}

func (m *MockService) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = fail
}

func (m *MockService) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

func (m *MockService) fail() error {
	if m.shouldFail {
		return apperrors.ErrIndexUnavailable
	}
	return nil
}

func (m *MockService) Ingest(_ context.Context, docs []models.Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	m.documents = append(m.documents, docs...)
	return len(docs), nil
}

func (m *MockService) Rebuild(ctx context.Context, docs []models.Document) (int, error) {
	if err := m.Reset(ctx); err != nil {
		return 0, err
	}
	return m.Ingest(ctx, docs)
}

func (m *MockService) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.documents = nil
	m.resets++
	return nil
}

func (m *MockService) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.documents), m.fail()
}

func (m *MockService) Sources(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, d := range m.documents {
		out[d.Metadata.Source]++
	}
	return out, m.fail()
}

func (m *MockService) Query(_ context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = req
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if req.Question == "" {
		return nil, apperrors.ErrEmptyQuestion
	}
	return m.response, nil
}

func (m *MockService) Compare(ctx context.Context, question string, topK int) (*models.Comparison, error) {
	initial, err := m.Query(ctx, models.QueryRequest{Question: question, PromptType: models.PromptInitial, TopK: topK})
	if err != nil {
		return nil, err
	}
	improved, err := m.Query(ctx, models.QueryRequest{Question: question, PromptType: models.PromptImproved, TopK: topK})
	if err != nil {
		return nil, err
	}
	return &models.Comparison{Question: question, Initial: initial, Improved: improved}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper function to create a test server
func createTestServer(cfg Config) (*Server, *MockService) {
	service := NewMockService()
	return NewServer(service, cfg, WithLogger(quietLogger())), service
}

func doRequest(server *Server, method, url string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

// Unit Tests

func TestHealthCheck(t *testing.T) {
	server, _ := createTestServer(Config{APIToken: "secret"})

	w := doRequest(server, http.MethodGet, "/health", nil, "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", response["status"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := createTestServer(Config{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/documents"},
		{http.MethodGet, "/index/reset"},
		{http.MethodGet, "/query"},
		{http.MethodGet, "/compare"},
		{http.MethodPost, "/stats"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := doRequest(server, tt.method, tt.path, nil, "")
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
			}
		})
	}
}

func TestAddDocumentsSuccess(t *testing.T) {
	server, service := createTestServer(Config{})

	req := models.IngestRequest{Documents: []models.Document{
		{Text: "Remote work is allowed.", Metadata: models.DocumentMetadata{Source: "remote.md", Type: "md"}},
		{Text: "Vacation days expire in March.", Metadata: models.DocumentMetadata{Source: "leave.txt", Type: "txt"}},
	}}
	w := doRequest(server, http.MethodPost, "/documents", req, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var response models.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Documents != 2 || response.Chunks != 2 {
		t.Errorf("unexpected response %+v", response)
	}
	if len(service.documents) != 2 {
		t.Errorf("Expected 2 stored documents, got %d", len(service.documents))
	}
}

func TestAddDocumentsWithReset(t *testing.T) {
	server, service := createTestServer(Config{})
	service.documents = []models.Document{{Text: "old"}}

	req := models.IngestRequest{Reset: true, Documents: []models.Document{{Text: "new"}}}
	w := doRequest(server, http.MethodPost, "/documents", req, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}
	if service.resets != 1 || len(service.documents) != 1 || service.documents[0].Text != "new" {
		t.Errorf("expected the index to be rebuilt, got %+v", service.documents)
	}
}

func TestAddDocumentsInvalid(t *testing.T) {
	server, _ := createTestServer(Config{})

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"documents": [`},
		{"no documents", models.IngestRequest{}},
		{"blank text", models.IngestRequest{Documents: []models.Document{{Text: "  "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(server, http.MethodPost, "/documents", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestAddDocumentsIndexUnavailable(t *testing.T) {
	server, service := createTestServer(Config{})
	service.SetShouldFail(true)

	req := models.IngestRequest{Documents: []models.Document{{Text: "text"}}}
	w := doRequest(server, http.MethodPost, "/documents", req, "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestIndexStatus(t *testing.T) {
	server, service := createTestServer(Config{Backend: "sqlite"})
	service.documents = []models.Document{
		{Text: "a", Metadata: models.DocumentMetadata{Source: "a.txt"}},
		{Text: "b", Metadata: models.DocumentMetadata{Source: "a.txt"}},
		{Text: "c", Metadata: models.DocumentMetadata{Source: "c.md"}},
	}

	w := doRequest(server, http.MethodGet, "/documents", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response models.IndexStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Count != 3 || response.Backend != "sqlite" || response.Sources["a.txt"] != 2 {
		t.Errorf("unexpected status %+v", response)
	}
}

func TestResetIndex(t *testing.T) {
	server, service := createTestServer(Config{})
	service.documents = []models.Document{{Text: "a"}}

	w := doRequest(server, http.MethodPost, "/index/reset", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if len(service.documents) != 0 {
		t.Error("Expected documents to be cleared")
	}

	service.SetShouldFail(true)
	w = doRequest(server, http.MethodPost, "/index/reset", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d after failed reset, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestAuthRequiredWhenTokenConfigured(t *testing.T) {
	server, _ := createTestServer(Config{APIToken: "secret"})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/documents"},
		{http.MethodPost, "/index/reset"},
		{http.MethodPost, "/query"},
		{http.MethodPost, "/compare"},
		{http.MethodGet, "/stats"},
	}
	for _, p := range paths {
		t.Run(p.path, func(t *testing.T) {
			if w := doRequest(server, p.method, p.path, nil, ""); w.Code != http.StatusUnauthorized {
				t.Errorf("Expected unauthorized without token, got %d", w.Code)
			}
			if w := doRequest(server, p.method, p.path, nil, "wrong"); w.Code != http.StatusUnauthorized {
				t.Errorf("Expected unauthorized with wrong token, got %d", w.Code)
			}
		})
	}

	if w := doRequest(server, http.MethodGet, "/documents", nil, "secret"); w.Code != http.StatusOK {
		t.Errorf("Expected success with valid token, got %d", w.Code)
	}
}

func TestSecureErrorMode(t *testing.T) {
	server, service := createTestServer(Config{Errors: apperrors.HandlerConfig{ErrorMode: "secure"}})
	service.SetQueryError(fmt.Errorf("retrieval failed: %w", apperrors.ErrIndexUnavailable.WithCause(fmt.Errorf("disk /var/secret/db is gone"))))

	w := doRequest(server, http.MethodPost, "/query", models.QueryRequest{Question: "q"}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("/var/secret")) {
		t.Errorf("secure mode leaked error details: %s", w.Body.String())
	}
}
