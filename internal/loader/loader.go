// Package loader reads policy documents from a directory.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"policy-rag/internal/models"
)

// Extensions are the file types the loader understands.
var Extensions = []string{".pdf", ".txt", ".md"}

// Loader turns files into documents.
type Loader struct {
	logger *slog.Logger
}

// New creates a Loader. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// LoadDirectory loads every supported regular file directly inside dir, in name order.
// A missing directory yields no documents. Files that fail to load, or hold only
// whitespace, are skipped.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) ([]models.Document, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("policy directory does not exist", "dir", dir)
		return []models.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	docs := make([]models.Document, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || !Supported(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		doc, err := l.LoadFile(path)
		if err != nil {
			l.logger.Error("failed to load document", "file", entry.Name(), "error", err)
			continue
		}
		if strings.TrimSpace(doc.Text) == "" {
			l.logger.Debug("skipping empty document", "file", entry.Name())
			continue
		}
		docs = append(docs, doc)
		l.logger.Info("loaded document", "file", entry.Name(), "chars", len(doc.Text))
	}
	return docs, nil
}

// LoadFile loads a single file. The source is the file name and the type its
// extension without the dot.
func (l *Loader) LoadFile(path string) (models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = readPDF(path)
	case ".txt", ".md":
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	default:
		return models.Document{}, fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return models.Document{}, err
	}

	return models.Document{
		Text: text,
		Metadata: models.DocumentMetadata{
			Source: filepath.Base(path),
			Type:   strings.TrimPrefix(ext, "."),
		},
	}, nil
}

// Supported reports whether name has an extension the loader reads.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// readPDF joins the plain text of every page with newlines.
func readPDF(path string) (text string, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}
