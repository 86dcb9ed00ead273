package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "policy-rag/internal/errors"
)

const (
	// RefusalAnswer is returned when the documents do not support an answer.
	RefusalAnswer = "I don't know based on the provided documents."
	// RefusalPrefix is what the evaluator looks for to detect a refusal.
	RefusalPrefix = "I don't know"
	// ErrorAnswer is returned when the model call fails.
	ErrorAnswer = "The system encountered an error while generating a response."
)

// PromptType selects the prompt template.
type PromptType string

const (
	PromptInitial  PromptType = "initial"
	PromptImproved PromptType = "improved"
)

// ParsePromptType maps a user supplied name onto a PromptType. Empty means improved.
func ParsePromptType(s string) (PromptType, error) {
	switch PromptType(strings.ToLower(strings.TrimSpace(s))) {
	case "", PromptImproved:
		return PromptImproved, nil
	case PromptInitial:
		return PromptInitial, nil
	default:
		return "", apperrors.ErrInvalidPromptType.WithCause(fmt.Errorf("unknown prompt type %q", s))
	}
}

// Confidence is the model-reported (or assigned) reliability label.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
	ConfidenceNA     Confidence = "N/A"
)

// ParseConfidence accepts High/Medium/Low in any case. Anything else is Medium.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	case "low":
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// Flag is a binary heuristic signal.
type Flag string

const (
	FlagOK   Flag = "ok"
	FlagWarn Flag = "warn"
)

// Risk grades the chance that an answer is not supported by the context.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
)

// EvaluationResult is derived from a QueryResponse and recomputed on every query.
type EvaluationResult struct {
	AccuracyFlag      Flag       `json:"accuracy_flag"`
	Groundedness      Flag       `json:"groundedness"`
	HallucinationRisk Risk       `json:"hallucination_risk"`
	PromptVersion     PromptType `json:"prompt_version"`
}

// QueryResponse is returned for every query, whatever path it took.
type QueryResponse struct {
	Answer          string           `json:"answer"`
	Evidence        []string         `json:"evidence"`
	Confidence      Confidence       `json:"confidence"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	Evaluation      EvaluationResult `json:"evaluation"`
}

// QueryRequest is the input to a single query.
type QueryRequest struct {
	Question   string     `json:"question"`
	PromptType PromptType `json:"prompt_type,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	// Sources restricts retrieval to chunks from these documents.
	Sources []string `json:"sources,omitempty"`
}

// Comparison holds the answers of both prompt variants for one question.
type Comparison struct {
	Question string         `json:"question"`
	Initial  *QueryResponse `json:"initial"`
	Improved *QueryResponse `json:"improved"`
}

// ChunkPreview is the shortened form of a chunk stored in the query log.
type ChunkPreview struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// LogEntry is one line of the query log.
type LogEntry struct {
	Timestamp          time.Time      `json:"timestamp"`
	Question           string         `json:"question"`
	PromptType         PromptType     `json:"prompt_type"`
	NumChunksRetrieved int            `json:"num_chunks_retrieved"`
	Chunks             []ChunkPreview `json:"chunks"`
	Response           QueryResponse  `json:"response"`
}
