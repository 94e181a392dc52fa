package models

import "fmt"

// DefaultSearchLimit and MaxSearchLimit bound the number of search results.
const (
	DefaultSearchLimit = 3
	MaxSearchLimit     = 20
)

// SearchQuery represents a free-text image search request.
type SearchQuery struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"` // minimum cosine similarity for a result
}

// Validate ensures the query has valid fields and sets defaults.
// Returns a validation error for an empty query or an out-of-range threshold;
// the limit is normalized into [1, MaxSearchLimit].
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be between 0 and 1", ErrValidation)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	return nil
}
