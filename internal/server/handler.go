package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/kilupskalvis/picstash/internal/ingest"
)

// ServerConfig holds configurable limits for the HTTP layer.
type ServerConfig struct {
	MaxUploadBytes int64  // per-image payload cap
	MaxRequestBody int64  // bytes, for JSON endpoints
	AdminToken     string // empty disables admin endpoints
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxUploadBytes: ingest.DefaultMaxUploadBytes,
		MaxRequestBody: 1 << 20, // 1MB
	}
}

// Handler creates the HTTP handler with all routes and middleware.
func Handler(core *ingest.Coordinator, cfg *ServerConfig, logger *slog.Logger) http.Handler {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := core.List(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: metadata store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Images
	mux.HandleFunc("POST /api/v1/images", makeUploadHandler(core, cfg))
	mux.HandleFunc("GET /api/v1/images", makeListHandler(core))
	mux.HandleFunc("GET /api/v1/images/{id}", makeGetHandler(core))
	mux.HandleFunc("GET /api/v1/images/{id}/file", makeFileHandler(core))
	mux.HandleFunc("PATCH /api/v1/images/{id}/caption", makeCaptionHandler(core, cfg))
	mux.HandleFunc("DELETE /api/v1/images/{id}", makeDeleteHandler(core))

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/gc", makeSweepHandler(core, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Apply global middleware
	return applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Image Handlers ---

func makeUploadHandler(core *ingest.Coordinator, cfg *ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Slack on top of the payload cap for multipart framing; the
		// coordinator enforces the exact limit.
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+cfg.MaxRequestBody)

		file, header, err := formImage(r, cfg.MaxUploadBytes)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": err.Error()})
			return
		}
		defer file.Close()

		rec, err := core.Ingest(r.Context(), ingest.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message": "image uploaded",
			"image":   rec,
		})
	}
}

// formImage extracts the single expected "image" field from a multipart
// request, rejecting obviously oversize uploads before they are parsed
// into memory.
func formImage(r *http.Request, maxBytes int64) (multipart.File, *multipart.FileHeader, error) {
	if r.ContentLength > 0 && r.ContentLength > maxBytes+1<<20 {
		return nil, nil, fmt.Errorf("request of %d bytes exceeds upload limit", r.ContentLength)
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, nil, fmt.Errorf("no image file provided")
	}
	return file, header, nil
}

func makeListHandler(core *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := core.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"images": records,
			"count":  len(records),
		})
	}
}

func makeGetHandler(core *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := core.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"image": rec})
	}
}

func makeFileHandler(core *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reader, rec, err := core.OpenBlob(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Type", rec.ContentType)
		w.WriteHeader(http.StatusOK)
		io.Copy(w, reader)
	}
}

func makeCaptionHandler(core *ingest.Coordinator, cfg *ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Caption *string `json:"caption"`
		}
		if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": err.Error()})
			return
		}
		if req.Caption == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": "caption is required"})
			return
		}

		rec, err := core.UpdateCaption(r.Context(), r.PathValue("id"), *req.Caption)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "caption updated",
			"image":   rec,
		})
	}
}

func makeDeleteHandler(core *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := core.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "image deleted"})
	}
}

// --- Admin ---

func makeSweepHandler(core *ingest.Coordinator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := core.Sweep(r.Context())
		if err != nil {
			logger.Error("sweep failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "auth_failed", "message": "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

// writeError maps coordinator errors onto the wire taxonomy.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, ingest.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "image not found"})
	default:
		var se *ingest.StorageError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":   "storage_error",
				"message": se.Error(),
				"stage":   se.Stage,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
