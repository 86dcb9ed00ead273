package rerank

import (
	"testing"

	"policy-rag/internal/models"
)

func rc(text string, score float64) models.RetrievedChunk {
	return models.RetrievedChunk{Chunk: models.Chunk{Text: text}, Score: score}
}

func TestRerankEmpty(t *testing.T) {
	out := Rerank(nil, "anything")
	if out == nil || len(out) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", out)
	}
}

func TestRerankOrdersByKeywordOverlap(t *testing.T) {
	in := []models.RetrievedChunk{
		rc("nothing relevant here", 0.1),
		rc("Vacation days accrue monthly", 0.4),
		rc("vacation VACATION policy days", 0.3),
	}

	out := Rerank(in, "How many vacation days?")

	// "days?" keeps its punctuation, so both policy chunks match on "vacation" only
	// and the closer one wins the tie
	if out[0].Text != "vacation VACATION policy days" || out[0].KeywordScore != 1 {
		t.Fatalf("unexpected first chunk %+v", out[0])
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].KeywordScore < out[i].KeywordScore {
			t.Errorf("position %d has lower keyword score than %d", i-1, i)
		}
	}
	if out[len(out)-1].Text != "nothing relevant here" || out[len(out)-1].KeywordScore != 0 {
		t.Errorf("expected non-matching chunk last, got %+v", out[len(out)-1])
	}
}

func TestRerankTieBreakByDistance(t *testing.T) {
	in := []models.RetrievedChunk{
		rc("leave policy", 0.9),
		rc("leave rules", 0.2),
		rc("leave guide", 0.5),
	}
	out := Rerank(in, "leave")

	want := []float64{0.2, 0.5, 0.9}
	for i, w := range want {
		if out[i].KeywordScore != 1 {
			t.Errorf("position %d: expected keyword score 1, got %d", i, out[i].KeywordScore)
		}
		if out[i].Score != w {
			t.Errorf("position %d: expected score %v, got %v", i, w, out[i].Score)
		}
	}
}

func TestRerankDuplicatesCountedOnce(t *testing.T) {
	out := Rerank([]models.RetrievedChunk{rc("sick sick sick leave", 0)}, "sick sick leave leave")
	if out[0].KeywordScore != 2 {
		t.Errorf("Expected keyword score 2, got %d", out[0].KeywordScore)
	}
}

func TestRerankIsPermutationAndPure(t *testing.T) {
	in := []models.RetrievedChunk{
		rc("a b c", 0.3),
		rc("b c d", 0.1),
		rc("x y z", 0.2),
		rc("a b c", 0.3),
	}
	orig := make([]models.RetrievedChunk, len(in))
	copy(orig, in)

	out := Rerank(in, "a b")

	if len(out) != len(in) {
		t.Fatalf("Expected %d chunks, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i].Text != orig[i].Text || in[i].KeywordScore != 0 {
			t.Errorf("input chunk %d was mutated", i)
		}
	}

	count := map[string]int{}
	for _, c := range in {
		count[c.Text]++
	}
	for _, c := range out {
		count[c.Text]--
	}
	for text, n := range count {
		if n != 0 {
			t.Errorf("output is not a permutation of input: %q off by %d", text, n)
		}
	}
}

func TestKeywordScoreCountsDistinctWords(t *testing.T) {
	tests := []struct {
		question string
		text     string
		want     int
	}{
		{"Remote Work policy", "remote work remote", 2},
		{"", "remote", 0},
		{"vacation", "sick leave", 0},
	}
	for _, tt := range tests {
		out := Rerank([]models.RetrievedChunk{rc(tt.text, 0)}, tt.question)
		if out[0].KeywordScore != tt.want {
			t.Errorf("%q vs %q: expected %d, got %d", tt.question, tt.text, tt.want, out[0].KeywordScore)
		}
	}
}
