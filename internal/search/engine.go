// Package search ranks stored images against natural-language queries.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Engine embeds the query text and ranks every stored image by cosine
// similarity between the query vector and the image's caption vector.
// The scan is linear over a snapshot of the store; writes concurrent with a
// search affect only later searches.
type Engine struct {
	store    storage.Storage
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewEngine creates a search engine over the given store and embedder.
func NewEngine(store storage.Storage, embedder embedding.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, embedder: embedder, logger: logger}
}

// Search validates q, embeds the query text, and returns the stored images
// whose caption similarity meets q.Threshold, best first, at most q.Limit.
// Records whose stored vector does not decode are skipped with a warning
// rather than failing the whole search.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	queryVec, err := e.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", models.ErrModelFailure, err)
	}

	records, err := e.store.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list images: %v", models.ErrStorage, err)
	}

	dims := e.embedder.Dimensions()
	byID := make(map[string]*models.ImageRecord, len(records))
	candidates := make([]vector.Candidate, 0, len(records))
	for _, rec := range records {
		vec, err := vector.Decode(rec.Embedding, dims)
		if err != nil {
			e.logger.Warn("skipping image with unreadable embedding",
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		byID[rec.ID] = rec
		candidates = append(candidates, vector.Candidate{Ref: rec.ID, Vector: vec})
	}

	ranked := vector.Rank(queryVec, candidates, q.Threshold, q.Limit)
	results := make([]*models.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		rec := byID[r.Ref]
		results = append(results, &models.SearchResult{
			ID:          rec.ID,
			Filename:    rec.Filename,
			Caption:     rec.Caption,
			FileSize:    rec.FileSize,
			ContentType: rec.ContentType,
			CreatedAt:   rec.CreatedAt,
			Score:       r.Score,
		})
	}

	elapsed := time.Since(start)
	e.logger.Debug("search completed",
		zap.String("query", q.Query),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed),
	)
	return &models.SearchResponse{
		Query:        q.Query,
		TotalResults: len(results),
		Results:      results,
		QueryTime:    elapsed.Milliseconds(),
	}, nil
}
