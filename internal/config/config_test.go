package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./data/images.db"
  upload_dir: "./data/uploads"
embedding:
  provider: "mock"
  dimensions: 8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Embedding.Provider != "mock" || cfg.Embedding.Dimensions != 8 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	wantDB := filepath.Join(dir, "data", "images.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path not expanded relative to config dir: %s", cfg.Storage.DatabasePath)
	}
	if !strings.HasPrefix(cfg.Storage.UploadDir, dir) {
		t.Errorf("upload_dir not expanded relative to config dir: %s", cfg.Storage.UploadDir)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: %d", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "onnx" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Caption.Provider != "openai" || cfg.Caption.MaxTokens != 64 {
		t.Errorf("caption defaults: %+v", cfg.Caption)
	}
	if cfg.Search.DefaultLimit != 3 || cfg.Search.MaxLimit != 20 {
		t.Errorf("search defaults: %+v", cfg.Search)
	}
	if cfg.Ingest.MaxFileSize != 10*1024*1024 {
		t.Errorf("max file size default: %d", cfg.Ingest.MaxFileSize)
	}
	if len(cfg.Ingest.AllowedExtensions) != 3 {
		t.Errorf("allowed extensions default: %v", cfg.Ingest.AllowedExtensions)
	}
	if cfg.Auth.TokenExpiryMinutes != 30 {
		t.Errorf("token expiry default: %d", cfg.Auth.TokenExpiryMinutes)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
