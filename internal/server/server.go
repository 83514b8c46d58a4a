// Package server exposes the job registry over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raphaelgruber/docjobs/internal/jobspec"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/raphaelgruber/docjobs/internal/provider"
	"github.com/raphaelgruber/docjobs/internal/service"
)

// maxBodyBytes limits the size of a submission body.
const maxBodyBytes = 1 << 20

// DefaultWatchInterval is how often a watch stream sends a snapshot.
const DefaultWatchInterval = 500 * time.Millisecond

// Jobs is the part of the registry the HTTP layer uses.
type Jobs interface {
	Submit(kind string, params models.JobParams) (string, error)
	Status(id string) (models.JobSnapshot, error)
	Logs(id string, lastN int) ([]string, error)
	List() []models.JobSnapshot
	Cancel(id string) error
	Remove(id string) error
}

// Catalog lists the collections of the document store.
type Catalog interface {
	CollectionNames(ctx context.Context) ([]string, error)
}

// Server serves the job API.
type Server struct {
	jobs      Jobs
	catalog   Catalog
	validator *jobspec.Validator
	metrics   *metrics.Collector
	logger    *slog.Logger

	// WatchInterval overrides DefaultWatchInterval when positive.
	WatchInterval time.Duration
}

// New creates a server. catalog and collector may be nil.
func New(jobs Jobs, catalog Catalog, collector *metrics.Collector, logger *slog.Logger) (*Server, error) {
	v, err := jobspec.NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jobs:      jobs,
		catalog:   catalog,
		validator: v,
		metrics:   collector,
		logger:    logger,
	}, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", s.handleStats)
	r.Get("/collections", s.handleCollections)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
		r.Delete("/{id}", s.handleRemove)
		r.Get("/{id}/logs", s.handleLogs)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Get("/{id}/watch", s.handleWatch)
	})

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req, err := s.validator.Parse(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.jobs.Submit(req.Kind, req.Params)
	switch {
	case errors.Is(err, service.ErrShuttingDown):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, service.ErrInvalidParams), errors.Is(err, provider.ErrUnknownKind):
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusCreated, models.SubmitResponse{ID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lastN := -1
	if v := r.URL.Query().Get("last_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < -1 {
			writeErr(w, http.StatusBadRequest, "last_n must be an integer >= -1")
			return
		}
		lastN = n
	}

	lines, err := s.jobs.Logs(id, lastN)
	if err != nil {
		s.writeJobErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.LogsResponse{ID: id, Lines: lines})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeJobErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Remove(chi.URLParam(r, "id")); err != nil {
		s.writeJobErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeErr(w, http.StatusNotImplemented, "no document store configured")
		return
	}
	names, err := s.catalog.CollectionNames(r.Context())
	if err != nil {
		s.logger.Warn("listing collections failed", "error", err)
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeJobErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrJobActive), errors.Is(err, service.ErrJobFinished):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
