package caption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MockCaptioner is a deterministic captioner for tests and local development.
// With a fixed caption it always returns that text; otherwise the caption is
// derived from the image bytes so distinct images get distinct captions.
type MockCaptioner struct {
	fixed string
}

// NewMockCaptioner returns a captioner that always succeeds.
// Pass "" to derive captions from the image content.
func NewMockCaptioner(fixed string) *MockCaptioner {
	return &MockCaptioner{fixed: fixed}
}

// Caption returns the fixed caption, or one derived from the image hash.
func (c *MockCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	if c.fixed != "" {
		return c.fixed, nil
	}
	sum := sha256.Sum256(image)
	return fmt.Sprintf("a photo (%s)", hex.EncodeToString(sum[:4])), nil
}

// Close is a no-op for MockCaptioner.
func (c *MockCaptioner) Close() error {
	return nil
}
