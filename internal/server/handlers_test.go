package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
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
	"github.com/hyperjump/shashin/internal/storage"
)

func newTestServer(t *testing.T) *Server {
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
		Server: config.ServerConfig{Port: 8080},
		Storage: config.StorageConfig{
			DatabasePath: filepath.Join(dir, "db.sqlite"),
			UploadDir:    filepath.Join(dir, "uploads"),
		},
		Caption:   config.CaptionConfig{Provider: "mock"},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 64},
		Ingest: config.IngestConfig{
			MaxFileSize:       1 << 20,
			AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
		},
	}
	embedder := embedding.NewMockEmbedder(64)
	captioner := caption.NewMockCaptioner("")
	pipeline := ingest.NewPipeline(store, files, captioner, embedder, &cfg.Ingest)
	engine := search.NewEngine(store, embedder, nil)
	tokens, err := auth.NewTokenManager("test-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(engine, pipeline, store, files, tokens, cfg, zap.NewNop())
}

func registerAndLogin(t *testing.T, srv *Server, username, password string) string {
	t.Helper()
	router := srv.Router()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: got %d, body: %s", w.Code, w.Body.String())
	}

	form := url.Values{"username": {username}, "password": {password}}
	r = httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("token: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TokenType != "bearer" || out.AccessToken == "" {
		t.Fatalf("token response: %+v", out)
	}
	return out.AccessToken
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func doUpload(t *testing.T, srv *Server, token, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartUpload(t, filename, contentType, data)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	r.Header.Set("Content-Type", formType)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func TestRegisterLoginMe(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice1", "password1")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("me: got %d, body: %s", w.Code, w.Body.String())
	}
	var user models.User
	if err := json.NewDecoder(w.Body).Decode(&user); err != nil {
		t.Fatal(err)
	}
	if user.Username != "alice1" {
		t.Errorf("got %q", user.Username)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Error("response must not leak the password hash")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "bob123", "password1")

	body, _ := json.Marshal(map[string]string{"username": "bob123", "password": "other-pass"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: got %d, want 409", w.Code)
	}
}

func TestTokenWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "carol1", "password1")

	form := url.Values{"username": {"carol1"}, "password": {"wrong"}}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", w.Code)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	body, formType := multipartUpload(t, "a.jpg", "image/jpeg", testJPEG(t))
	r := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	r.Header.Set("Content-Type", formType)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
}

func TestUploadAndGet(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "dave12", "password1")

	w := doUpload(t, srv, token, "blue.jpg", "image/jpeg", testJPEG(t))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: got %d, body: %s", w.Code, w.Body.String())
	}
	var rec models.ImageRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" || rec.Caption == "" {
		t.Errorf("upload response incomplete: %+v", rec)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/images/"+rec.ID, nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("get: got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/images/"+rec.ID+"/download", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("download: got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		t.Errorf("download content type: %q", ct)
	}
}

func TestUploadInvalidImage(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "erin12", "password1")

	w := doUpload(t, srv, token, "fake.jpg", "image/jpeg", []byte("not an image at all"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid image: got %d, want 400; body: %s", w.Code, w.Body.String())
	}

	w = doUpload(t, srv, token, "doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("wrong type: got %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "frank1", "password1")

	if w := doUpload(t, srv, token, "photo.jpg", "image/jpeg", testJPEG(t)); w.Code != http.StatusCreated {
		t.Fatalf("upload: got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/images/search?query=a+photo&limit=5", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("search: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Query != "a photo" {
		t.Errorf("query echoed wrong: %q", resp.Query)
	}
	if resp.TotalResults != len(resp.Results) {
		t.Errorf("total_results %d != len(results) %d", resp.TotalResults, len(resp.Results))
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/images/search?query=", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d, want 400", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/images/search?query=x&threshold=2", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad threshold: got %d, want 400", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "grace1", "password1")

	for i := 0; i < 3; i++ {
		if w := doUpload(t, srv, token, "photo.jpg", "image/jpeg", testJPEG(t)); w.Code != http.StatusCreated {
			t.Fatalf("upload %d: got %d", i, w.Code)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/images/history?limit=2", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("history: got %d", w.Code)
	}
	var out struct {
		Total  int64                 `json:"total"`
		Images []*models.ImageRecord `json:"images"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 3 {
		t.Errorf("total: got %d, want 3", out.Total)
	}
	if len(out.Images) != 2 {
		t.Errorf("page size: got %d, want 2", len(out.Images))
	}
}

func TestDeleteImage(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "henry1", "password1")

	w := doUpload(t, srv, token, "bye.jpg", "image/jpeg", testJPEG(t))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: got %d", w.Code)
	}
	var rec models.ImageRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/images/"+rec.ID, nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/images/"+rec.ID, nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", w.Code)
	}

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/images/no-such-id", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing: got %d, want 404", w.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	srv := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/status", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Images int64                  `json:"images"`
		Config map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Config["embedding_dimensions"] != float64(64) {
		t.Errorf("config: %+v", out.Config)
	}
}
