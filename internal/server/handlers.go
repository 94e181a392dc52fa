package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/auth"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
)

// multipartMemoryLimit bounds how much of a multipart body is held in memory;
// larger parts spill to temp files.
const multipartMemoryLimit = 16 << 20

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := auth.ValidateUsername(req.Username); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.storage.GetUserByUsername(r.Context(), req.Username); err == nil {
		s.respondError(w, http.StatusConflict, "username already registered")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.storage.CreateUser(r.Context(), user); err != nil {
		s.logger.Error("user creation failed", zap.Error(err))
		s.respondError(w, http.StatusConflict, "username already registered")
		return
	}
	s.logger.Info("user registered", zap.String("username", user.Username))
	s.respondJSON(w, http.StatusCreated, user)
}

// handleToken implements the password grant: form-encoded username/password in,
// bearer token out.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := s.storage.GetUserByUsername(r.Context(), username)
	if err != nil || !user.IsActive || !auth.CheckPassword(password, user.PasswordHash) {
		// One message for both unknown user and bad password.
		s.respondError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}
	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	username, _ := auth.UserFromContext(r.Context())
	user, err := s.storage.GetUserByUsername(r.Context(), username)
	if err != nil {
		s.respondError(w, statusForError(err), "user not found")
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	s.logger.Debug("upload request",
		zap.String("filename", header.Filename),
		zap.Int("size", len(data)),
		zap.String("content_type", contentType),
	)
	rec, err := s.pipeline.Ingest(r.Context(), &ingest.Upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Warn("ingest failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, &models.UploadResult{
		ID:        rec.ID,
		Filename:  rec.Filename,
		Caption:   rec.Caption,
		FileSize:  rec.FileSize,
		CreatedAt: rec.CreatedAt,
		Message:   "image uploaded and processed successfully",
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := &models.SearchQuery{
		Query:     r.URL.Query().Get("query"),
		Threshold: s.config.Search.DefaultThreshold,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		q.Threshold = f
	}

	s.logger.Debug("search request", zap.String("query", q.Query), zap.Int("limit", q.Limit))
	response, err := s.engine.Search(r.Context(), q)
	if err != nil {
		s.logger.Warn("search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	offset := 0
	limit := 20
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	records, err := s.storage.ListRecent(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("history failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	total, err := s.storage.CountImages(r.Context())
	if err != nil {
		s.logger.Error("history count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"images": records,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetImage(r.Context(), id)
	if err != nil {
		s.respondError(w, statusForError(err), "image not found")
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetImage(r.Context(), id)
	if err != nil {
		s.respondError(w, statusForError(err), "image not found")
		return
	}
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+rec.Filename+`"`)
	http.ServeFile(w, r, s.files.Path(rec.FileRef))
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetImage(r.Context(), id)
	if err != nil {
		s.respondError(w, statusForError(err), "image not found")
		return
	}
	if err := s.files.Delete(rec.FileRef); err != nil {
		s.logger.Error("file deletion failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	if err := s.storage.DeleteImage(r.Context(), id); err != nil {
		s.logger.Error("record deletion failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, statusForError(err), "deletion failed")
		return
	}
	s.logger.Debug("image deleted", zap.String("id", id))
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.storage.CountImages(r.Context())
	if err != nil {
		s.logger.Error("status: count images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"images": count,
		"config": map[string]interface{}{
			"caption_provider":     s.config.Caption.Provider,
			"caption_model":        s.config.Caption.Model,
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"database_path":        s.config.Storage.DatabasePath,
			"upload_dir":           s.config.Storage.UploadDir,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.UploadDir)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusForError maps the error taxonomy onto HTTP status codes. Client
// mistakes get 400, missing resources 404, model backend trouble 502,
// everything else 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrModelFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
