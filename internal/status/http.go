package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/v1/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return AuthMiddleware(authToken, next) })
		r.Get("/v1/status", s.handleStatus)
		r.Post("/v1/save", s.handleSave)
		r.Get("/v1/takes", s.handleListTakes)
	})
	return r
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

type saveRequest struct {
	Source string `json:"source"`
}

// handleSave handles POST /v1/save. The body is optional.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	source := "http"
	if req.Source != "" {
		source = "http:" + req.Source
	}
	if !s.saves.Offer(model.SaveRequest{Source: source, At: time.Now()}) {
		writeError(w, http.StatusServiceUnavailable, "save queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleListTakes handles GET /v1/takes?game=&limit=.
func (s *Server) handleListTakes(w http.ResponseWriter, r *http.Request) {
	if s.takes == nil {
		writeError(w, http.StatusNotFound, "take history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	takes, err := s.takes.RecentTakes(r.Context(), r.URL.Query().Get("game"), limit)
	if err != nil {
		s.logger.Error("list takes failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list takes")
		return
	}
	if takes == nil {
		takes = []model.Take{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"takes": takes})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
