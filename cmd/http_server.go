package cmd

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/config"
	"github.com/blazeload/blaze/internal/core"
	"github.com/blazeload/blaze/internal/observability"
	"github.com/blazeload/blaze/internal/source"
	"github.com/blazeload/blaze/internal/utils"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	service core.DownloadService
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(service core.DownloadService) *APIHandler {
	return &APIHandler{service: service}
}

// newRouter wires the public and protected routes. metricsHandler may be nil.
func newRouter(service core.DownloadService, token string, metrics *observability.Metrics, metricsHandler http.Handler) http.Handler {
	h := NewAPIHandler(service)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware(metrics))

	// Public
	r.Get("/health", h.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(token))

		r.Get("/api/events", h.Events)

		r.Route("/api/downloads", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/", h.Add)
			r.Post("/pause-all", h.PauseAll)
			r.Post("/stop-all", h.StopAll)
			r.Delete("/history", h.ClearHistory)

			r.Post("/{id}/pause", h.jobAction("paused", h.service.Pause))
			r.Post("/{id}/resume", h.jobAction("resumed", h.service.Resume))
			r.Post("/{id}/stop", h.jobAction("stopped", h.service.Stop))
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("Failed to encode response: %v", err)
	}
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrServiceClosed), errors.Is(err, backend.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.As(err, new(*backend.RPCError)):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Health check endpoint (Public)
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   Version,
		"connected": snap.Connected,
	})
}

// Events endpoint (Protected). Each update is one "updated" SSE event.
func (h *APIHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, cleanup, err := h.service.StreamEvents(r.Context())
	if err != nil {
		http.Error(w, "Failed to subscribe to events", errorStatus(err))
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				utils.Debug("Error marshaling event: %v", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: updated\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// List endpoint (Protected)
func (h *APIHandler) List(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.List()
	if err != nil {
		http.Error(w, "Failed to list downloads: "+err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Add endpoint (Protected). Accepts the same sources as the CLI: http(s),
// ftp and torrent URLs with a host, or magnet links.
func (h *APIHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req core.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	req.URL = source.Normalize(req.URL)
	if !source.IsSupported(req.URL) {
		http.Error(w, "url must be an absolute http, ftp or magnet URL", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.TargetDirectory, "..") || strings.Contains(req.FileName, "..") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if strings.ContainsAny(req.FileName, `/\`) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	utils.Debug("Received download request: URL=%s, Dir=%s", req.URL, req.TargetDirectory)

	id, err := h.service.Add(req.URL, req.TargetDirectory, req.FileName, req.Connections)
	if err != nil {
		http.Error(w, "Failed to add download: "+err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// jobAction builds a handler for POST /api/downloads/{id}/<action>.
func (h *APIHandler) jobAction(status string, op func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := op(id); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "id": id})
	}
}

// PauseAll endpoint (Protected)
func (h *APIHandler) PauseAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PauseAll()
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StopAll endpoint (Protected)
func (h *APIHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.StopAll()
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ClearHistory endpoint (Protected)
func (h *APIHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ClearHistory()
	if err != nil {
		http.Error(w, "Failed to clear history: "+err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && len(provided) == len(token) && subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

// metricsMiddleware records request latency. A nil metrics is a no-op.
func metricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, wrapped.statusCode, time.Since(start).Seconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ensureAuthToken returns the daemon's bearer token, creating it on first use.
func ensureAuthToken() string {
	tokenFile := filepath.Join(config.GetBlazeDir(), "token")
	data, err := os.ReadFile(tokenFile)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	// Generate new token
	token := uuid.New().String()
	if err := os.WriteFile(tokenFile, []byte(token), 0o600); err != nil {
		utils.Debug("Failed to write token file: %v", err)
	}
	return token
}
