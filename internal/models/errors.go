package models

import "errors"

// Error kinds for the ingestion and retrieval pipelines. Wrapped with %w so
// callers can classify failures with errors.Is and map them to HTTP statuses.
var (
	// ErrValidation marks bad input shape, size, or type (user-correctable).
	ErrValidation = errors.New("validation failed")
	// ErrInvalidImage marks bytes that do not decode as an image (user-correctable).
	ErrInvalidImage = errors.New("invalid image")
	// ErrModelFailure marks a captioning or embedding backend error. Possibly
	// transient; the caller decides whether to retry, the pipeline does not.
	ErrModelFailure = errors.New("model failure")
	// ErrStorage marks a storage collaborator I/O error.
	ErrStorage = errors.New("storage failure")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)
