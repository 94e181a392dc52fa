package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		caption TEXT NOT NULL,
		embedding BLOB NOT NULL,
		file_ref TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		source_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
	CREATE INDEX IF NOT EXISTS idx_images_source_id ON images(source_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateImage inserts an image record. A missing ID is assigned.
func (s *SQLiteStorage) CreateImage(ctx context.Context, rec *models.ImageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, filename, caption, embedding, file_ref, file_size, content_type, source_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.Caption, rec.Embedding, rec.FileRef,
		rec.FileSize, rec.ContentType, rec.SourceID, rec.CreatedAt,
	)
	return err
}

const imageColumns = `id, filename, caption, embedding, file_ref, file_size, content_type, source_id, created_at`

func scanImage(row interface{ Scan(...any) error }) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	var sourceID sql.NullString
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Caption, &rec.Embedding, &rec.FileRef,
		&rec.FileSize, &rec.ContentType, &sourceID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.SourceID = sourceID.String
	return &rec, nil
}

// GetImage returns an image record by ID.
func (s *SQLiteStorage) GetImage(ctx context.Context, id string) (*models.ImageRecord, error) {
	rec, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: image %s", models.ErrNotFound, id)
	}
	return rec, err
}

// GetImageBySourceID returns the image record ingested from the given source
// fingerprint, or ErrNotFound. Used by the drop-folder watcher for dedup.
func (s *SQLiteStorage) GetImageBySourceID(ctx context.Context, sourceID string) (*models.ImageRecord, error) {
	rec, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE source_id = ? ORDER BY created_at DESC LIMIT 1`, sourceID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: source %s", models.ErrNotFound, sourceID)
	}
	return rec, err
}

// DeleteImage removes an image record by ID.
func (s *SQLiteStorage) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	return err
}

// ListImages returns every image record, oldest first. The result is a
// point-in-time snapshot: records created after the query ran are absent.
func (s *SQLiteStorage) ListImages(ctx context.Context) ([]*models.ImageRecord, error) {
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM images ORDER BY created_at ASC`)
}

// ListRecent returns image records newest-first with offset and limit.
func (s *SQLiteStorage) ListRecent(ctx context.Context, offset, limit int) ([]*models.ImageRecord, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *SQLiteStorage) queryImages(ctx context.Context, query string, args ...any) ([]*models.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.ImageRecord
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountImages returns the total number of image records.
func (s *SQLiteStorage) CountImages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// CreateUser inserts a user. Returns an error if the username is taken.
func (s *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, boolToInt(user.IsActive), user.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("username already registered: %s", user.Username)
	}
	return err
}

// GetUserByUsername returns a user by username.
func (s *SQLiteStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	var isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, is_active, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &isActive, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	user.IsActive = isActive != 0
	return &user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
