// Package caption provides image captioning backends (OpenAI vision, mock).
package caption

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/shashin/internal/config"
)

// Captioner produces a short natural-language description of an image.
// Implementations must return non-empty text on success; backend errors are
// returned as-is and never retried here — the caller owns retry policy.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
	Close() error
}

// NewCaptioner creates a captioner for the configured provider.
// Supported providers: "openai" (any OpenAI-compatible vision endpoint), "mock".
func NewCaptioner(cfg *config.CaptionConfig) (Captioner, error) {
	switch cfg.Provider {
	case "openai", "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAICaptioner(apiKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	case "mock":
		return NewMockCaptioner(""), nil
	default:
		return nil, fmt.Errorf("unknown caption provider: %s (supported: openai, mock)", cfg.Provider)
	}
}
