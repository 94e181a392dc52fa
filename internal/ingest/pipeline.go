// Package ingest runs the image ingestion pipeline: validate, persist,
// caption, embed, store.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/caption"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/fileid"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Upload is one ingestion request: raw image bytes plus client-supplied metadata.
// SourceID is set only for drop-folder ingests (see IngestFile).
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	SourceID    string
}

// Pipeline turns an uploaded image into a stored record:
// validate, persist the original bytes, verify and normalize the image,
// caption it, embed the caption, encode the vector, store the record.
// The pipeline is stateless between calls and safe for concurrent use as
// long as its collaborators are.
type Pipeline struct {
	store       storage.Storage
	files       *storage.FileStore
	captioner   caption.Captioner
	embedder    embedding.Embedder
	maxFileSize int64
	allowedExts []string
	logger      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline with the given collaborators.
func NewPipeline(
	store storage.Storage,
	files *storage.FileStore,
	captioner caption.Captioner,
	embedder embedding.Embedder,
	cfg *config.IngestConfig,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:       store,
		files:       files,
		captioner:   captioner,
		embedder:    embedder,
		maxFileSize: cfg.MaxFileSize,
		allowedExts: cfg.AllowedExtensions,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest runs the full pipeline for one upload. Any failure after the original
// bytes are persisted deletes them again, so no orphaned files and no partial
// records remain; retrieval never sees an item mid-ingestion.
func (p *Pipeline) Ingest(ctx context.Context, up *Upload) (*models.ImageRecord, error) {
	if err := p.validate(up); err != nil {
		return nil, err
	}

	ref, err := p.files.Save(up.Data, filepath.Ext(up.Filename))
	if err != nil {
		return nil, fmt.Errorf("%w: persist upload: %v", models.ErrStorage, err)
	}

	// Structurally verify the persisted bytes and normalize the color mode
	// before inference; the caption model sees plain RGB JPEG.
	img, err := imaging.Decode(bytes.NewReader(up.Data))
	if err != nil {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	var normalized bytes.Buffer
	if err := imaging.Encode(&normalized, imaging.Clone(img), imaging.JPEG); err != nil {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: re-encode image: %v", models.ErrInvalidImage, err)
	}

	text, err := p.captioner.Caption(ctx, normalized.Bytes())
	if err != nil {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: caption: %v", models.ErrModelFailure, err)
	}

	// Search matches against the caption's meaning, not raw pixels, so the
	// caption text is what gets embedded.
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: embed caption: %v", models.ErrModelFailure, err)
	}
	if len(vec) != p.embedder.Dimensions() {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d",
			models.ErrModelFailure, len(vec), p.embedder.Dimensions())
	}

	rec := &models.ImageRecord{
		Filename:    up.Filename,
		Caption:     text,
		Embedding:   vector.Encode(vec),
		FileRef:     ref,
		FileSize:    int64(len(up.Data)),
		ContentType: up.ContentType,
		SourceID:    up.SourceID,
	}
	if err := p.store.CreateImage(ctx, rec); err != nil {
		p.cleanup(ref)
		return nil, fmt.Errorf("%w: create record: %v", models.ErrStorage, err)
	}

	if p.logger != nil {
		p.logger.Debug("image ingested",
			zap.String("id", rec.ID),
			zap.String("filename", rec.Filename),
			zap.String("caption", rec.Caption),
		)
	}
	return rec, nil
}

// validate rejects bad uploads before any bytes are written.
func (p *Pipeline) validate(up *Upload) error {
	if len(up.Data) == 0 {
		return fmt.Errorf("%w: empty upload", models.ErrValidation)
	}
	if !strings.HasPrefix(up.ContentType, "image/") {
		return fmt.Errorf("%w: file must be an image, got content type %q", models.ErrValidation, up.ContentType)
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !extensionAllowed(ext, p.allowedExts) {
		return fmt.Errorf("%w: extension %q not supported (allowed: %s)",
			models.ErrValidation, ext, strings.Join(p.allowedExts, ", "))
	}
	if p.maxFileSize > 0 && int64(len(up.Data)) > p.maxFileSize {
		return fmt.Errorf("%w: file size %d exceeds maximum of %d bytes",
			models.ErrValidation, len(up.Data), p.maxFileSize)
	}
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimPrefix(strings.ToLower(a), ".") == strings.TrimPrefix(ext, ".") {
			return true
		}
	}
	return false
}

// cleanup is the compensating delete for persisted bytes when a later stage fails.
func (p *Pipeline) cleanup(ref string) {
	if err := p.files.Delete(ref); err != nil && p.logger != nil {
		p.logger.Warn("failed to delete orphaned upload", zap.String("ref", ref), zap.Error(err))
	}
}

// IngestFile ingests an image file from disk (drop-folder path). Files already
// ingested from the same path are skipped; the existing record is returned.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.ImageRecord, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	sourceID := fileid.SourceID(absPath)
	if existing, err := p.store.GetImageBySourceID(ctx, sourceID); err == nil {
		if p.logger != nil {
			p.logger.Debug("skipping already-ingested file", zap.String("path", absPath))
		}
		return existing, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", models.ErrStorage, err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "image/" + strings.TrimPrefix(ext, ".")
	}
	return p.Ingest(ctx, &Upload{
		Data:        data,
		Filename:    filepath.Base(absPath),
		ContentType: contentType,
		SourceID:    sourceID,
	})
}

// RemoveFile deletes the record and stored bytes for a previously watched
// file that disappeared from its drop folder. Unknown paths are ignored.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	rec, err := p.store.GetImageBySourceID(ctx, fileid.SourceID(absPath))
	if err != nil {
		return nil
	}
	if err := p.files.Delete(rec.FileRef); err != nil {
		return fmt.Errorf("%w: delete file: %v", models.ErrStorage, err)
	}
	if err := p.store.DeleteImage(ctx, rec.ID); err != nil {
		return fmt.Errorf("%w: delete record: %v", models.ErrStorage, err)
	}
	return nil
}
