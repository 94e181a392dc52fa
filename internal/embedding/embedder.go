// Package embedding provides text embedding backends (ONNX, OpenAI, mock) and caching.
package embedding

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/shashin/internal/config"
)

// Embedder produces fixed-dimension vector embeddings for text. The same
// embedder serves both generated captions at ingestion and free-text queries
// at search, so stored and query vectors are directly comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// NewEmbedder creates an embedder for the configured provider.
// Supported providers: "onnx" (local model, requires CGO), "openai", "mock".
func NewEmbedder(cfg *config.EmbeddingConfig) (Embedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch cfg.Provider {
	case "onnx", "":
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIEmbedder(apiKey, cfg.BaseURL, cfg.Model, cfg.Dimensions), nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, mock)", cfg.Provider)
	}
}
