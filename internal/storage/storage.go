// Package storage defines persistence for image records, users, and original files.
package storage

import (
	"context"

	"github.com/hyperjump/shashin/internal/models"
)

// Storage defines image record and user persistence operations.
// Embedding blobs are opaque byte payloads at this boundary: the store never
// interprets or truncates them.
type Storage interface {
	// Image records
	CreateImage(ctx context.Context, rec *models.ImageRecord) error
	GetImage(ctx context.Context, id string) (*models.ImageRecord, error)
	GetImageBySourceID(ctx context.Context, sourceID string) (*models.ImageRecord, error)
	DeleteImage(ctx context.Context, id string) error
	// ListImages returns a point-in-time snapshot of every record, for retrieval.
	ListImages(ctx context.Context) ([]*models.ImageRecord, error)
	// ListRecent returns records newest-first with offset and limit.
	ListRecent(ctx context.Context, offset, limit int) ([]*models.ImageRecord, error)
	CountImages(ctx context.Context) (int64, error)

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	Close() error
}
