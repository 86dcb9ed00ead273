// Package evaluation derives heuristic quality signals from answers and from the query log.
package evaluation

import (
	"strings"

	"policy-rag/internal/models"
)

// Evaluate grades resp without any ground truth.
//
// An answer starting with "I don't know" is flagged as a refusal. Evidence presence
// decides groundedness. Hallucination risk is only MEDIUM for a non-refusal answer
// that cites no evidence.
func Evaluate(resp models.QueryResponse, promptType models.PromptType) models.EvaluationResult {
	refusal := IsRefusal(resp.Answer)
	grounded := len(resp.Evidence) > 0

	result := models.EvaluationResult{
		AccuracyFlag:      models.FlagOK,
		Groundedness:      models.FlagWarn,
		HallucinationRisk: models.RiskMedium,
		PromptVersion:     promptType,
	}
	if refusal {
		result.AccuracyFlag = models.FlagWarn
	}
	if grounded {
		result.Groundedness = models.FlagOK
	}
	if refusal || grounded {
		result.HallucinationRisk = models.RiskLow
	}
	return result
}

// IsRefusal reports whether answer is the model declining to answer.
func IsRefusal(answer string) bool {
	return strings.HasPrefix(answer, models.RefusalPrefix)
}
