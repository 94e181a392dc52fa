package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/shashin/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and local development.
// The same text always gets the same unit-length vector, and texts sharing
// words get correlated vectors, so ranking behaves plausibly without a model.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding derived from the text's word hashes.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	tok := &SimpleTokenizer{}
	ids, mask, _ := tok.Tokenize(text, 64)
	for i, id := range ids {
		if mask[i] == 0 || id == 101 || id == 102 {
			continue
		}
		// Each word contributes a fixed pseudo-random direction.
		for d := 0; d < e.dimensions; d++ {
			emb[d] += float32(math.Sin(float64(id) * float64(d+1) * 0.7))
		}
	}
	if allZero(emb) {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func allZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
