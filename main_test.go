package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policy-rag/internal/evaluation"
	"policy-rag/internal/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T, modelURL string) string {
	t.Helper()
	dir := t.TempDir()
	policies := filepath.Join(dir, "policies")
	if err := os.MkdirAll(policies, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(policies, "leave.txt"), []byte("Full-time employees receive 20 vacation days per calendar year."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(policies, "remote.md"), []byte("Remote work is allowed up to two days per week."), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`
database:
  path: %s
services:
  llm:
    provider: ollama
    base_url: %s
    model: llama3
    circuit_breaker:
      enabled: false
  embeddings:
    provider: hash
    dimension: 64
logging:
  query_log: %s
data:
  policies_dir: %s
app:
  log_level: error
`, filepath.Join(dir, "db", "vector_store.db"), modelURL, filepath.Join(dir, "logs", "queries.jsonl"), policies)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommands(t *testing.T) {
	root := buildRootCmd()
	want := []string{"ask", "compare", "ingest", "reset", "serve", "stats", "watch"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("missing command %q", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing global --config flag")
	}
}

func TestCLIWorkflow(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answer := `{"answer": "20 vacation days.", "evidence": ["employees receive 20 vacation days"], "confidence": "High"}`
		_ = json.NewEncoder(w).Encode(map[string]any{"response": answer, "done": true})
	}))
	defer model.Close()

	configPath := writeTestConfig(t, model.URL)

	out, err := runCLI(t, "--config", configPath, "ingest")
	if err != nil {
		t.Fatalf("ingest failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Indexed 2 documents as 2 chunks") {
		t.Errorf("unexpected ingest output: %s", out)
	}

	out, err = runCLI(t, "--config", configPath, "ask", "--json", "How many vacation days?")
	if err != nil {
		t.Fatalf("ask failed: %v\n%s", err, out)
	}
	var resp models.QueryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("ask output is not JSON: %v\n%s", err, out)
	}
	if resp.Answer != "20 vacation days." || resp.Confidence != models.ConfidenceHigh || len(resp.RetrievedChunks) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}

	out, err = runCLI(t, "--config", configPath, "ask", "--source", "remote.md", "Can I work remotely?")
	if err != nil {
		t.Fatalf("ask failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Sources Retrieved: 1") || !strings.Contains(out, "[remote.md]") {
		t.Errorf("unexpected ask output: %s", out)
	}

	out, err = runCLI(t, "--config", configPath, "stats", "--json")
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	var dist evaluation.Distribution
	if err := json.Unmarshal([]byte(out), &dist); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	if dist.TotalQueries != 2 || dist.ByConfidence[models.ConfidenceHigh] != 2 {
		t.Errorf("unexpected distribution %+v", dist)
	}

	if out, err := runCLI(t, "--config", configPath, "reset"); err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	if _, err := runCLI(t, "ask"); err == nil {
		t.Error("Expected error without a question")
	}
}

func TestIngestEmptyDirectory(t *testing.T) {
	configPath := writeTestConfig(t, "http://127.0.0.1:1")
	empty := t.TempDir()

	if _, err := runCLI(t, "--config", configPath, "ingest", "--dir", empty); err == nil {
		t.Error("Expected error when no documents are found")
	}
}

func TestSyncIndexClearsOnEmptyDirectory(t *testing.T) {
	configPath := writeTestConfig(t, "http://127.0.0.1:1")
	a, err := newApp(configPath, false)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()
	ctx := context.Background()
	dir := a.cfg.Data.PoliciesDir

	docs, chunks, err := a.syncIndex(ctx, dir)
	if err != nil {
		t.Fatalf("syncIndex failed: %v", err)
	}
	if docs != 2 || chunks == 0 {
		t.Fatalf("Expected 2 documents indexed, got docs=%d chunks=%d", docs, chunks)
	}

	for _, name := range []string{"leave.txt", "remote.md"} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	docs, chunks, err = a.syncIndex(ctx, dir)
	if err != nil {
		t.Fatalf("syncIndex on empty directory failed: %v", err)
	}
	if docs != 0 || chunks != 0 {
		t.Errorf("Expected 0 documents, got docs=%d chunks=%d", docs, chunks)
	}
	if count, err := a.pipeline.Count(ctx); err != nil || count != 0 {
		t.Errorf("Expected empty index, got %d (%v)", count, err)
	}
	if _, _, err := a.rebuildIndex(ctx, dir); err == nil {
		t.Error("rebuildIndex should still reject an empty directory")
	}
}
