package models

// Match is one ranked retrieval hit. Score is a similarity where higher is closer.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Content returns the stored content of the matched item, if present.
func (m Match) Content() string {
	return m.Metadata.String(MetaContent)
}

// RetrievalResponse is the response for a retrieval request.
type RetrievalResponse struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Matches   []Match `json:"matches"`
	Cached    bool    `json:"cached"`
	QueryTime int64   `json:"query_time_ms"`
}
