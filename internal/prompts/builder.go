// Package prompts assembles retrieved chunks into a bounded context and renders prompt templates.
package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/models"
)

// DefaultBudget is the context size limit in characters.
const DefaultBudget = 4000

// TruncationMode selects how an oversized context is cut.
type TruncationMode string

const (
	// TruncatePrefix keeps the first Budget characters, possibly cutting a chunk mid-sentence.
	TruncatePrefix TruncationMode = "prefix"
	// TruncateChunk drops whole trailing document blocks that do not fit.
	TruncateChunk TruncationMode = "chunk"
)

// ParseTruncationMode accepts "prefix", "chunk" or "" (prefix).
func ParseTruncationMode(s string) (TruncationMode, error) {
	switch TruncationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TruncatePrefix:
		return TruncatePrefix, nil
	case TruncateChunk:
		return TruncateChunk, nil
	}
	return "", apperrors.ErrInvalidConfiguration.WithCause(fmt.Errorf("unknown truncation mode %q", s))
}

// Builder turns retrieved chunks into a finished prompt.
type Builder struct {
	Budget int
	Mode   TruncationMode
}

// NewBuilder returns a Builder, falling back to DefaultBudget and prefix truncation.
func NewBuilder(budget int, mode TruncationMode) *Builder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if mode == "" {
		mode = TruncatePrefix
	}
	return &Builder{Budget: budget, Mode: mode}
}

// Context returns the context string for chunks, limited to the builder's budget.
func (b *Builder) Context(chunks []models.RetrievedChunk) string {
	if b.Mode == TruncateChunk {
		return buildWithinBudget(chunks, b.Budget)
	}
	return TruncateContext(BuildContext(chunks), b.Budget)
}

// Build renders the prompt for question over chunks.
func (b *Builder) Build(promptType models.PromptType, chunks []models.RetrievedChunk, question string) string {
	return Render(promptType, b.Context(chunks), question)
}

// BuildContext concatenates chunks as "[Document i - source]" blocks separated by blank lines.
// i is the 1-based position in chunks.
func BuildContext(chunks []models.RetrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = block(i+1, c)
	}
	return strings.Join(parts, "\n")
}

func block(i int, c models.RetrievedChunk) string {
	source := c.Metadata.Source
	if source == "" {
		source = "Unknown"
	}
	return fmt.Sprintf("[Document %d - %s]\n%s\n", i, source, c.Text)
}

// TruncateContext keeps at most budget characters of s without splitting a UTF-8 sequence.
func TruncateContext(s string, budget int) string {
	if budget <= 0 || utf8.RuneCountInString(s) <= budget {
		return s
	}
	n := 0
	for i := range s {
		if n == budget {
			return s[:i]
		}
		n++
	}
	return s
}

func buildWithinBudget(chunks []models.RetrievedChunk, budget int) string {
	var sb strings.Builder
	used := 0
	for i, c := range chunks {
		b := block(i+1, c)
		if i > 0 {
			b = "\n" + b
		}
		size := utf8.RuneCountInString(b)
		if used+size > budget {
			if i == 0 {
				return TruncateContext(b, budget)
			}
			break
		}
		sb.WriteString(b)
		used += size
	}
	return sb.String()
}

// Render substitutes context and question into the template for promptType.
// Substituted text is inserted as is; placeholders inside it are not expanded.
func Render(promptType models.PromptType, context, question string) string {
	tmpl := ImprovedTemplate
	if promptType == models.PromptInitial {
		tmpl = InitialTemplate
	}
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(tmpl)
}
