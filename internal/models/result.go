package models

import "time"

// SearchResult is a single search hit: the image's metadata plus its similarity score.
type SearchResult struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Caption     string    `json:"caption"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	Score       float64   `json:"score"`
}

// SearchResponse is the response for a search request.
// TotalResults equals len(Results), i.e. the count after threshold filtering
// and limit truncation. Callers wanting the pre-limit match count must not
// rely on this field.
type SearchResponse struct {
	Query        string          `json:"query"`
	TotalResults int             `json:"total_results"`
	Results      []*SearchResult `json:"results"`
	QueryTime    int64           `json:"query_time_ms"`
}
