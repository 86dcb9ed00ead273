package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Employees receive 20 vacation days")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, _ := NewHashEmbedder(64).Embed(ctx, "employees RECEIVE 20 vacation days!")
	if len(a) != 64 {
		t.Fatalf("Expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: case and punctuation should not matter", i)
		}
	}
}

func TestHashEmbedderNormalised(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimension() != DefaultHashDimension {
		t.Errorf("Expected default dimension, got %d", e.Dimension())
	}
	for _, text := range []string{"one", "a longer sentence about remote work", "", "   "} {
		v, err := e.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-5 {
			t.Errorf("%q: expected unit norm, got %v", text, norm)
		}
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(DefaultHashDimension)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "remote work policy")
	near, _ := e.Embed(ctx, "the remote work policy allows two days from home")
	far, _ := e.Embed(ctx, "expense reports are due monthly")

	if cosine(q, near) <= cosine(q, far) {
		t.Errorf("expected related text to be closer: near=%v far=%v", cosine(q, near), cosine(q, far))
	}
}

func TestHashEmbedderName(t *testing.T) {
	if got := NewHashEmbedder(128).Name(); got != "hash:128" {
		t.Errorf("Name() = %q", got)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if body["model"] != "nomic-embed-text" || body["prompt"] != "hello" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "", time.Second)
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 3 || v[2] != 0.3 {
		t.Errorf("unexpected vector %v", v)
	}
	if e.Name() != "ollama:nomic-embed-text" {
		t.Errorf("Name() = %q", e.Name())
	}
}

func TestOllamaEmbedderErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer notFound.Close()

	if _, err := NewOllamaEmbedder(notFound.URL, "missing", time.Second).Embed(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Expected status error, got %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer empty.Close()

	if _, err := NewOllamaEmbedder(empty.URL, "m", time.Second).Embed(context.Background(), "x"); err == nil {
		t.Error("Expected error for empty embedding")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder("test-key", server.URL+"/v1", "m")
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.5 {
		t.Errorf("unexpected vector %v", v)
	}
	if e.Name() != "openai:m" {
		t.Errorf("Name() = %q", e.Name())
	}
}

func TestOpenAIEmbedderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder("", "", ""); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestNew(t *testing.T) {
	e, err := New(Config{Provider: "hash", Dimension: 32})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "hash:32" {
		t.Errorf("unexpected embedder %s", e.Name())
	}
	if _, err := New(Config{Provider: "ollama"}); err != nil {
		t.Errorf("ollama: %v", err)
	}
	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := New(Config{Provider: "word2vec"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
