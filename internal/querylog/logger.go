// Package querylog appends query/response cycles to a JSON Lines file.
package querylog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"policy-rag/internal/models"
)

// PreviewLength is the number of characters of chunk text kept in a log entry.
const PreviewLength = 200

// Logger writes one LogEntry per line. It is safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
	now  func() time.Time
}

// Open opens (or creates) the log file at path for appending.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open query log: %w", err)
	}
	return &Logger{path: path, file: f, now: time.Now}, nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	return l.path
}

// Log records one query.
func (l *Logger) Log(question string, promptType models.PromptType, chunks []models.RetrievedChunk, resp models.QueryResponse) error {
	return l.Append(NewEntry(l.now(), question, promptType, chunks, resp))
}

// Append writes entry as a single line with one write call.
func (l *Logger) Append(entry models.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("query log %s is closed", l.path)
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// NewEntry builds a log entry with shortened chunk previews.
func NewEntry(ts time.Time, question string, promptType models.PromptType, chunks []models.RetrievedChunk, resp models.QueryResponse) models.LogEntry {
	previews := make([]models.ChunkPreview, len(chunks))
	for i, c := range chunks {
		previews[i] = models.ChunkPreview{
			Text:     Preview(c.Text),
			Metadata: c.Metadata,
		}
	}
	if resp.Evidence == nil {
		resp.Evidence = []string{}
	}
	if resp.RetrievedChunks == nil {
		resp.RetrievedChunks = []models.RetrievedChunk{}
	}
	return models.LogEntry{
		Timestamp:          ts,
		Question:           question,
		PromptType:         promptType,
		NumChunksRetrieved: len(chunks),
		Chunks:             previews,
		Response:           resp,
	}
}

// Preview shortens text to PreviewLength characters, marking the cut with "...".
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	n := 0
	for i := range text {
		if n == PreviewLength {
			return text[:i] + "..."
		}
		n++
	}
	return text
}

// ReadAll loads every entry from path. A missing file yields no entries.
func ReadAll(path string) ([]models.LogEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.LogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open query log: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads JSON Lines entries from r, skipping blank lines.
func Decode(r io.Reader) ([]models.LogEntry, error) {
	entries := []models.LogEntry{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("query log line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query log: %w", err)
	}
	return entries, nil
}
