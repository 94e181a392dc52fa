// Package e2e drives the whole HTTP API against real components.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/auth"
	"github.com/hyperjump/shashin/internal/caption"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
)

const e2eDimensions = 32

func startAPI(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	files, err := storage.NewFileStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath: filepath.Join(dir, "db.sqlite"),
			UploadDir:    filepath.Join(dir, "uploads"),
		},
		Caption:   config.CaptionConfig{Provider: "mock"},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: e2eDimensions},
		Ingest: config.IngestConfig{
			MaxFileSize:       1 << 20,
			AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
		},
	}
	embedder := embedding.NewMockEmbedder(e2eDimensions)
	pipe := ingest.NewPipeline(store, files, caption.NewMockCaptioner(""), embedder, &cfg.Ingest)
	engine := search.NewEngine(store, embedder, nil)
	tokens, err := auth.NewTokenManager("e2e-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	srv := server.NewServer(engine, pipe, store, files, tokens, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func obtainToken(t *testing.T, baseURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "tester1", "password": "secret123"})
	resp, err := http.Post(baseURL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: got %d", resp.StatusCode)
	}

	form := url.Values{"username": {"tester1"}, "password": {"secret123"}}
	resp, err = http.PostForm(baseURL+"/api/v1/auth/token", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token: got %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.AccessToken
}

func uploadImage(t *testing.T, baseURL, token string, seed uint8) *models.ImageRecord {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: 255 - seed, B: seed / 2, A: 255})
		}
	}
	var imgBuf bytes.Buffer
	if err := jpeg.Encode(&imgBuf, img, nil); err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fmt.Sprintf("img-%d.jpg", seed))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(imgBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/v1/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: got %d: %s", resp.StatusCode, b)
	}
	var rec models.ImageRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	return &rec
}

func authedGet(t *testing.T, rawURL, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, rawURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestE2E_UploadSearchHistoryDelete(t *testing.T) {
	ts := startAPI(t)
	token := obtainToken(t, ts.URL)

	first := uploadImage(t, ts.URL, token, 10)
	second := uploadImage(t, ts.URL, token, 200)
	if first.Caption == "" || second.Caption == "" {
		t.Fatal("uploads should be captioned")
	}

	// Searching for the exact caption must surface that image first.
	resp := authedGet(t, ts.URL+"/api/v1/images/search?query="+url.QueryEscape(second.Caption)+"&limit=5", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: got %d", resp.StatusCode)
	}
	var searchOut models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchOut); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(searchOut.Results) == 0 || searchOut.Results[0].ID != second.ID {
		t.Errorf("expected %s first, got %+v", second.ID, searchOut.Results)
	}

	resp = authedGet(t, ts.URL+"/api/v1/images/history", token)
	var history struct {
		Total int64 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if history.Total != 2 {
		t.Errorf("history total: got %d, want 2", history.Total)
	}

	resp = authedGet(t, ts.URL+"/api/v1/images/"+first.ID+"/download", token)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(data) == 0 {
		t.Errorf("download: got %d with %d bytes", resp.StatusCode, len(data))
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		t.Errorf("download content type: %q", resp.Header.Get("Content-Type"))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/images/"+first.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete: got %d", delResp.StatusCode)
	}

	resp = authedGet(t, ts.URL+"/api/v1/images/"+first.ID, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", resp.StatusCode)
	}
}

func TestE2E_RejectsUnauthenticatedAndBadUploads(t *testing.T) {
	ts := startAPI(t)
	token := obtainToken(t, ts.URL)

	resp, err := http.Get(ts.URL + "/api/v1/images/search?query=anything")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated search: got %d, want 401", resp.StatusCode)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "junk.jpg")
	part.Write([]byte("definitely not a jpeg"))
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("junk upload: got %d, want 400", resp.StatusCode)
	}
}
