package caption

import (
	"context"
	"testing"

	"github.com/hyperjump/shashin/internal/config"
)

func TestMockCaptioner(t *testing.T) {
	ctx := context.Background()

	c := NewMockCaptioner("a red square")
	got, err := c.Caption(ctx, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != "a red square" {
		t.Errorf("got %q", got)
	}

	c = NewMockCaptioner("")
	a, _ := c.Caption(ctx, []byte("image-a"))
	b, _ := c.Caption(ctx, []byte("image-b"))
	if a == "" || b == "" {
		t.Fatal("derived captions must be non-empty")
	}
	if a == b {
		t.Error("distinct images should get distinct derived captions")
	}
	a2, _ := c.Caption(ctx, []byte("image-a"))
	if a != a2 {
		t.Error("derived caption must be deterministic")
	}
}

func TestNewCaptioner(t *testing.T) {
	if _, err := NewCaptioner(&config.CaptionConfig{Provider: "mock"}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCaptioner(&config.CaptionConfig{Provider: "blip"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
