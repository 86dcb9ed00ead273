// Package rerank reorders retrieved chunks by lexical overlap with the question.
package rerank

import (
	"sort"
	"strings"

	"policy-rag/internal/models"
)

// Rerank returns a reordered copy of chunks with KeywordScore set.
// Chunks sharing more distinct lower-cased words with the question come first;
// ties keep the closer vector distance first, then the original order.
func Rerank(chunks []models.RetrievedChunk, question string) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, len(chunks))
	copy(out, chunks)
	if len(out) == 0 {
		return out
	}

	q := wordSet(question)
	for i := range out {
		out[i].KeywordScore = overlap(q, wordSet(out[i].Text))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].KeywordScore != out[j].KeywordScore {
			return out[i].KeywordScore > out[j].KeywordScore
		}
		return out[i].Score < out[j].Score
	})
	return out
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
