// Package response extracts the structured answer from raw model output.
package response

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "policy-rag/internal/errors"
	"policy-rag/internal/models"
)

// Grounded is the answer object the improved prompt asks the model to return.
type Grounded struct {
	Answer     string            `json:"answer"`
	Evidence   []string          `json:"evidence"`
	Confidence models.Confidence `json:"confidence"`
}

// Parse decodes the JSON object spanning the first '{' and the last '}' of raw.
// Text around the object is ignored. It reports false when there is no such span
// or the span is not a JSON object.
//
// Missing fields get defaults: the answer falls back to raw, evidence to empty,
// confidence to Medium.
func Parse(raw string) (Grounded, bool) {
	obj, err := Extract(raw)
	if err != nil {
		return Grounded{}, false
	}

	g := Grounded{
		Answer:     raw,
		Evidence:   []string{},
		Confidence: models.ConfidenceMedium,
	}
	if v, ok := obj["answer"]; ok && v != nil {
		g.Answer = stringify(v)
	}
	if v, ok := obj["evidence"]; ok {
		g.Evidence = evidenceList(v)
	}
	if v, ok := obj["confidence"].(string); ok {
		g.Confidence = models.ParseConfidence(v)
	}
	return g, true
}

// Extract returns the JSON object embedded in raw.
func Extract(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, apperrors.ErrMalformedModelOutput.WithCause(fmt.Errorf("no JSON object found"))
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, apperrors.ErrMalformedModelOutput.WithCause(err)
	}
	if obj == nil {
		return nil, apperrors.ErrMalformedModelOutput.WithCause(fmt.Errorf("null object"))
	}
	return obj, nil
}

func evidenceList(v any) []string {
	switch e := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(e) == "" {
			return []string{}
		}
		return []string{e}
	case []any:
		out := make([]string, 0, len(e))
		for _, item := range e {
			if item == nil {
				continue
			}
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(e)}
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64, bool:
		return fmt.Sprint(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}
