// Package server exposes the dispatcher over HTTP: single-file and batch
// submission, job inspection, stats, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/batch"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/dispatch"
	"github.com/joseph-ayodele/docscan/internal/store"
)

// Dispatcher is the slice of the dispatch facade the handlers call.
type Dispatcher interface {
	ProcessFile(ctx context.Context, path, mimeType string, opts dispatch.ProcessOptions) (*dispatch.Result, error)
	ProcessBatch(ctx context.Context, files []batch.File, opts batch.Options) *batch.Result
	Job(ctx context.Context, id string) (*store.JobRecord, error)
	Stats(ctx context.Context) *dispatch.Stats
	Ping(ctx context.Context) error
}

type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    http.Handler
}

// New builds the HTTP surface. metricsHandler serves GET /metrics and may be
// nil to leave that route unregistered.
func New(d Dispatcher, logger *slog.Logger, metricsHandler http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: d, logger: logger, metrics: metricsHandler}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Post("/batch", s.handleBatch)
		r.Get("/stats", s.handleStats)
		r.Get("/jobs/{id}", s.handleJob)
	})

	return r
}

type processRequest struct {
	Path             string   `json:"path"`
	MimeType         string   `json:"mimeType"`
	SkipCache        bool     `json:"skipCache"`
	Priority         int      `json:"priority"`
	DelayMS          int64    `json:"delayMs"`
	PreferredEngines []string `json:"preferredEngines"`
}

type batchRequest struct {
	Files            []batch.File `json:"files"`
	ChunkSize        int          `json:"chunkSize"`
	ChunkDelayMS     int64        `json:"chunkDelayMs"`
	Priority         int          `json:"priority"`
	SkipCache        bool         `json:"skipCache"`
	PreferredEngines []string     `json:"preferredEngines"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if err := common.NewValidator().
		Field("path", req.Path, common.Required, common.MaxLen(4096)).
		Error(); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	mime := strings.TrimSpace(req.MimeType)
	if mime == "" {
		mime = constants.MimeForExt(constants.NormalizeExt(filepath.Ext(req.Path)))
	}

	res, err := s.dispatcher.ProcessFile(r.Context(), req.Path, mime, dispatch.ProcessOptions{
		SkipCache:        req.SkipCache,
		Priority:         req.Priority,
		Delay:            time.Duration(req.DelayMS) * time.Millisecond,
		PreferredEngines: req.PreferredEngines,
	})
	if err != nil {
		s.logger.Warn("process request failed",
			"request_id", middleware.GetReqID(r.Context()), "path", req.Path, "error", err)
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Files) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("files is required"))
		return
	}
	v := common.NewValidator()
	for i := range req.Files {
		req.Files[i].Path = strings.TrimSpace(req.Files[i].Path)
		v.Field(fmt.Sprintf("files[%d].path", i), req.Files[i].Path, common.Required)
	}
	if err := v.Error(); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	for i := range req.Files {
		// a missing mime type is derived from the extension; underivable
		// files flow through and settle as per-item unsupported-type errors
		if req.Files[i].MimeType == "" {
			req.Files[i].MimeType = constants.MimeForExt(constants.NormalizeExt(filepath.Ext(req.Files[i].Path)))
		}
	}

	res := s.dispatcher.ProcessBatch(r.Context(), req.Files, batch.Options{
		ChunkSize:        req.ChunkSize,
		ChunkDelay:       time.Duration(req.ChunkDelayMS) * time.Millisecond,
		Priority:         req.Priority,
		SkipCache:        req.SkipCache,
		PreferredEngines: req.PreferredEngines,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeErr(w, http.StatusBadRequest, errors.New("job id is required"))
		return
	}
	job, err := s.dispatcher.Job(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Stats(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("store unreachable: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jobResponse(job *store.JobRecord) map[string]any {
	resp := map[string]any{
		"id":          job.ID,
		"lane":        job.Lane,
		"path":        job.Path,
		"mimeType":    job.MimeType,
		"contentHash": job.ContentHash,
		"priority":    job.Priority,
		"state":       job.State,
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"stalls":      job.Stalls,
		"enqueuedAt":  job.EnqueuedAt,
		"eligibleAt":  job.EligibleAt,
	}
	if len(job.Engines) > 0 {
		resp["engines"] = job.Engines
	}
	if job.LastError != "" {
		resp["lastError"] = job.LastError
	}
	if !job.FinishedAt.IsZero() {
		resp["finishedAt"] = job.FinishedAt
	}
	return resp
}

// statusFor maps the failure taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrHashing):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
