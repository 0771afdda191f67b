// Package api exposes the analysis service over HTTP JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arborstack/arbor-fdr/internal/config"
	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/services"
	"github.com/arborstack/arbor-fdr/internal/store"
	"github.com/arborstack/arbor-fdr/internal/utils"
)

// Handler maps HTTP requests onto the analysis service.
type Handler struct {
	service *services.AnalysisService
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler set.
func NewHandler(service *services.AnalysisService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// NewRouter assembles the chi router: recovery and logging middleware,
// CORS from the server config, and the versioned API routes.
func NewRouter(cfg config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyses", h.SubmitAnalysis)
		r.Get("/analyses", h.ListRuns)
		r.Get("/analyses/{runID}", h.GetRun)
		r.Delete("/analyses/{runID}", h.DeleteRun)
		r.Get("/hotspots", h.Hotspots)
	})
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitAnalysis decodes an analysis request, runs it, and returns the run
// record.
func (h *Handler) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &services.ValidationError{Reason: "request body", Err: err})
		return
	}
	rec, err := h.service.Analyze(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/analyses/"+rec.RunID)
	writeJSON(w, http.StatusCreated, rec)
}

// GetRun returns one stored run in full.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type listRunsResponse struct {
	Runs []models.RunSummary `json:"runs"`
}

// ListRuns returns stored run summaries, filtered by the since, mode and
// limit query parameters.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := models.ListRunsRequest{Mode: r.URL.Query().Get("mode")}

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			h.writeError(w, r, &services.ValidationError{Reason: "since", Err: err})
			return
		}
		q.Since = t
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, &services.ValidationError{Reason: "limit", Err: err})
		return
	}
	q.Limit = limit
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, &services.ValidationError{Reason: "offset", Err: err})
		return
	}
	q.Offset = offset

	runs, err := h.service.ListRuns(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

// DeleteRun removes a stored run.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type hotspotsResponse struct {
	Hotspots []models.Hotspot `json:"hotspots"`
}

// Hotspots returns nodes that keep flagging across stored runs, filtered
// by the since, min_runs and limit query parameters.
func (h *Handler) Hotspots(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			h.writeError(w, r, &services.ValidationError{Reason: "since", Err: err})
			return
		}
		since = t
	}
	minRuns, err := intQuery(r, "min_runs", 1)
	if err != nil {
		h.writeError(w, r, &services.ValidationError{Reason: "min_runs", Err: err})
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, &services.ValidationError{Reason: "limit", Err: err})
		return
	}

	spots, err := h.service.Hotspots(r.Context(), since, minRuns, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if spots == nil {
		spots = []models.Hotspot{}
	}
	writeJSON(w, http.StatusOK, hotspotsResponse{Hotspots: spots})
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP statuses: refused requests are
// 400, missing runs 404, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("op", utils.OpOf(err)),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", slog.Any("error", err))
	}
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query %s must be a non-negative integer", key)
	}
	return n, nil
}

// requestLogger emits one debug line per request after it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)))
		})
	}
}
