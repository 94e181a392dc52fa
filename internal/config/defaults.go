package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/images.db"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "/usr/local/var/shashin/data/uploads"
	}
	if cfg.Caption.Provider == "" {
		cfg.Caption.Provider = "openai"
	}
	if cfg.Caption.Model == "" {
		cfg.Caption.Model = "gpt-4o-mini"
	}
	if cfg.Caption.MaxTokens == 0 {
		cfg.Caption.MaxTokens = 64
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/shashin/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 3
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 20
	}
	if cfg.Ingest.MaxFileSize == 0 {
		cfg.Ingest.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Ingest.AllowedExtensions == nil {
		cfg.Ingest.AllowedExtensions = []string{".jpg", ".jpeg", ".png"}
	}
	if cfg.Auth.TokenExpiryMinutes == 0 {
		cfg.Auth.TokenExpiryMinutes = 30
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
