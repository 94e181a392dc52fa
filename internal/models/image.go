// Package models defines core data structures for images, users, queries, and search results.
package models

import "time"

// ImageRecord represents a stored image with its caption and embedding.
// Caption and Embedding are produced once at ingestion and never mutated;
// re-uploading the same image creates a new record.
type ImageRecord struct {
	ID          string    `json:"id" db:"id"`
	Filename    string    `json:"filename" db:"filename"`
	Caption     string    `json:"caption" db:"caption"`
	Embedding   []byte    `json:"-" db:"embedding"`
	FileRef     string    `json:"-" db:"file_ref"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	ContentType string    `json:"content_type" db:"content_type"`
	SourceID    string    `json:"-" db:"source_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UploadResult is returned after a successful ingestion.
type UploadResult struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Caption   string    `json:"caption"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}
