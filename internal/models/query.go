package models

import "fmt"

// DefaultTopK is the number of matches returned when a query does not ask for a count.
const DefaultTopK = 5

// MaxTopK caps the number of matches a single query may request.
const MaxTopK = 100

// RetrievalQuery is a similarity query with an optional equality filter on metadata.
type RetrievalQuery struct {
	Query  string                 `json:"query"`
	TopK   int                    `json:"top_k,omitempty"`
	Filter map[string]interface{} `json:"filter,omitempty"`
}

// Validate rejects empty queries and normalizes TopK into [1, MaxTopK].
func (q *RetrievalQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	return nil
}
