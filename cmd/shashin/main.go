// Package main is the Shashin CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/auth"
	"github.com/hyperjump/shashin/internal/caption"
	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shashin/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "shashin server" from the project dir uses the project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "register":
		runRegister()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (uploads, captions, drop-folder events)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpiryMinutes)*time.Minute)
	if err != nil {
		logger.Fatal("Failed to initialize auth", zap.Error(err))
	}

	pipe := components.Pipeline
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watch *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watch = watcher.New(
			cfg.Watch.Directories,
			cfg.Ingest.AllowedExtensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, err := pipe.IngestFile(context.Background(), path); err != nil {
					logger.Warn("drop-folder ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if err := pipe.RemoveFile(context.Background(), path); err != nil {
					logger.Warn("drop-folder remove failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watch.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Storage,
		components.Files,
		tokens,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watch != nil {
		watch.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// bearerToken resolves the API token: the -token flag wins, then SHASHIN_TOKEN.
func bearerToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SHASHIN_TOKEN")
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", `server URL (empty = ingest directly without a running server)`)
	token := fs.String("token", "", "bearer token (or SHASHIN_TOKEN env)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: shashin ingest [flags] <image-file>...")
		os.Exit(1)
	}

	if *serverURL != "" {
		for _, path := range fs.Args() {
			rec, err := uploadViaHTTP(*serverURL, bearerToken(*token), path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Upload failed for %s: %v\n", path, err)
				os.Exit(1)
			}
			fmt.Printf("Ingested %s: %s\n", rec.ID, rec.Caption)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	for _, path := range fs.Args() {
		rec, err := components.Pipeline.IngestFile(context.Background(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed for %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %s: %s\n", rec.ID, rec.Caption)
	}
}

func uploadViaHTTP(serverURL, token, path string) (*models.ImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/images", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var rec models.ImageRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rec, nil
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", `server URL (empty = search directly without a running server)`)
	token := fs.String("token", "", "bearer token (or SHASHIN_TOKEN env)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	threshold := fs.Float64("threshold", -1, "minimum similarity score in [0,1] (default from config)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: shashin search [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: shashin search [flags] <query>")
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, bearerToken(*token), queryStr, *limit, *threshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	q := &models.SearchQuery{
		Query:     queryStr,
		Limit:     *limit,
		Threshold: cfg.Search.DefaultThreshold,
	}
	if *threshold >= 0 {
		q.Threshold = *threshold
	}
	response, err := components.Engine.Search(context.Background(), q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL, token, query string, limit int, threshold float64) (*models.SearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if threshold >= 0 {
		params.Set("threshold", fmt.Sprintf("%g", threshold))
	}
	req, err := http.NewRequest(http.MethodGet, serverURL+"/api/v1/images/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: shashin register [flags] <username> <password>")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]string{
		"username": fs.Arg(0),
		"password": fs.Arg(1),
	})
	resp, err := http.Post(*serverURL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Registration failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Registered: %s\n", fs.Arg(0))
}

// statusResponse is the shape of GET /status.
type statusResponse struct {
	Images         int64                  `json:"images"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", `server URL (empty = read storage directly)`)
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		count, err := store.CountImages(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count images failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Images: count,
			Config: map[string]interface{}{
				"caption_provider":     cfg.Caption.Provider,
				"embedding_provider":   cfg.Embedding.Provider,
				"embedding_dimensions": cfg.Embedding.Dimensions,
				"database_path":        cfg.Storage.DatabasePath,
				"upload_dir":           cfg.Storage.UploadDir,
			},
		}
		diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.UploadDir)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("images:             %d   # count of ingested images\n", status.Images)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d   # database + originals on disk\n", *status.DiskUsageBytes)
		}
		if len(status.Config) > 0 {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{
				"caption_provider", "caption_model",
				"embedding_provider", "embedding_model", "embedding_dimensions",
				"database_path", "upload_dir",
			} {
				if v, ok := status.Config[key]; ok && v != "" {
					fmt.Printf("%-20s %v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Files     *storage.FileStore
	Captioner caption.Captioner
	Embedder  embedding.Embedder
	Pipeline  *ingest.Pipeline
	Engine    *search.Engine
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Captioner != nil {
		_ = c.Captioner.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	files, err := storage.NewFileStore(cfg.Storage.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embedding)
	if err != nil {
		// A missing local model should not keep the service down in development.
		if logger != nil {
			logger.Warn("embedder init failed, falling back to mock",
				zap.String("provider", cfg.Embedding.Provider),
				zap.Error(err))
		}
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}

	captioner, err := caption.NewCaptioner(&cfg.Caption)
	if err != nil {
		if logger != nil {
			logger.Warn("captioner init failed, falling back to mock",
				zap.String("provider", cfg.Caption.Provider),
				zap.Error(err))
		}
		captioner = caption.NewMockCaptioner("")
	}

	pipeOpts := []ingest.Option{}
	if debug && logger != nil {
		pipeOpts = append(pipeOpts, ingest.WithLogger(logger))
	}
	pipe := ingest.NewPipeline(store, files, captioner, embedder, &cfg.Ingest, pipeOpts...)
	engine := search.NewEngine(store, embedder, logger)

	return &Components{
		Storage:   store,
		Files:     files,
		Captioner: captioner,
		Embedder:  embedder,
		Pipeline:  pipe,
		Engine:    engine,
	}, nil
}

func printUsage() {
	fmt.Println(`shashin - Image upload, auto-caption, and semantic search

Usage:
  shashin server [flags]            Start the HTTP server
  shashin ingest [flags] <file>...  Caption and index image files
  shashin search [flags] <query>    Search images by description
  shashin register <user> <pass>    Register an account on the server
  shashin status [flags]            Show storage and model status
  shashin version                   Show version
  shashin help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/shashin/config.yaml)
  --debug            Enable debug logging (uploads, captions, drop-folder events)

Ingest Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to ingest directly.
  --token string     Bearer token for the server (or set SHASHIN_TOKEN)

Search Flags:
  --config string      Config file path (for direct mode)
  --server string      Server URL (default: http://localhost:8080). Use empty (--server "") to search directly.
  --token string       Bearer token for the server (or set SHASHIN_TOKEN)
  --limit int          Number of results (default from config)
  --threshold float    Minimum similarity score in [0,1] (default from config)
  --output string      Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  shashin server
  shashin register alice secret123
  SHASHIN_TOKEN=$(curl -s -d 'username=alice&password=secret123' http://localhost:8080/api/v1/auth/token | jq -r .access_token)
  shashin ingest vacation/*.jpg
  shashin search a dog playing in the snow
  shashin search --output json "sunset over water"
  shashin status`)
}
