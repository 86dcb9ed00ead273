package models

// IngestRequest is the body of POST /documents.
type IngestRequest struct {
	Documents []Document `json:"documents"`
	// Reset clears the index before ingesting.
	Reset bool `json:"reset"`
}

type IngestResponse struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Message   string `json:"message"`
}

type IndexStatusResponse struct {
	Count   int            `json:"count"`
	Backend string         `json:"backend"`
	Sources map[string]int `json:"sources"`
}

type CompareRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
