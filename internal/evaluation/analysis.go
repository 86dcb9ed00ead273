package evaluation

import "policy-rag/internal/models"

// Distribution summarises a query log.
type Distribution struct {
	TotalQueries int                                  `json:"total_queries"`
	ByConfidence map[models.Confidence]int            `json:"confidence_distribution"`
	ByPromptType map[models.PromptType]int            `json:"prompt_type_distribution"`
	Groundedness map[models.Flag]int                  `json:"groundedness_distribution"`
	Risk         map[models.Risk]int                  `json:"hallucination_risk_distribution"`
	PerPrompt    map[models.PromptType]map[string]int `json:"confidence_by_prompt_type"`
}

// AnalyzeConfidence counts confidence labels and evaluation signals across entries.
// All four confidence labels are always present; an entry with no label counts as N/A.
func AnalyzeConfidence(entries []models.LogEntry) Distribution {
	d := Distribution{
		TotalQueries: len(entries),
		ByConfidence: map[models.Confidence]int{
			models.ConfidenceHigh:   0,
			models.ConfidenceMedium: 0,
			models.ConfidenceLow:    0,
			models.ConfidenceNA:     0,
		},
		ByPromptType: map[models.PromptType]int{},
		Groundedness: map[models.Flag]int{},
		Risk:         map[models.Risk]int{},
		PerPrompt:    map[models.PromptType]map[string]int{},
	}

	for _, e := range entries {
		conf := e.Response.Confidence
		if conf == "" {
			conf = models.ConfidenceNA
		}
		d.ByConfidence[conf]++

		pt := e.PromptType
		if pt == "" {
			pt = e.Response.Evaluation.PromptVersion
		}
		if pt != "" {
			d.ByPromptType[pt]++
			if d.PerPrompt[pt] == nil {
				d.PerPrompt[pt] = map[string]int{}
			}
			d.PerPrompt[pt][string(conf)]++
		}

		if g := e.Response.Evaluation.Groundedness; g != "" {
			d.Groundedness[g]++
		}
		if r := e.Response.Evaluation.HallucinationRisk; r != "" {
			d.Risk[r]++
		}
	}
	return d
}
