// Package server exposes the HTTP API: scan requests, probe dispatch, and
// the paginated inventory read endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dixcover/dixcover/internal/apperr"
	"github.com/dixcover/dixcover/internal/storage"
)

// Sessions hands out single-connection storage handles. Implemented by
// *storage.Store.
type Sessions interface {
	Session(ctx context.Context) (*storage.Session, error)
}

// Scanner starts a discovery scan. Implemented by *scan.Coordinator.
type Scanner interface {
	Scan(ctx context.Context, apex string, scheduled bool, requestedBy string) error
}

// Sweeper runs a probe sweep. Implemented by *sweep.Runner.
type Sweeper interface {
	Run(ctx context.Context, limit int) error
}

// Server carries the handler dependencies.
type Server struct {
	store   Sessions
	scanner Scanner
	sweeper Sweeper
	logger  *slog.Logger
}

// New creates the API server.
func New(store Sessions, scanner Scanner, sweeper Sweeper, logger *slog.Logger) *Server {
	return &Server{store: store, scanner: scanner, sweeper: sweeper, logger: logger}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/", s.handleScan)
	r.Post("/probe", s.handleProbe)
	r.Get("/domains/data", s.handleDomainsData)
	return r
}

type scanRequest struct {
	Domain      string `json:"domain"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.scanner.Scan(r.Context(), body.Domain, false, body.RequestedBy)
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrScanInProgress):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		s.logger.Error("server: scan failed", "domain", body.Domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": fmt.Sprintf("scan initiated for domain %s", normalizeForMessage(body.Domain)),
		})
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if s.sweeper == nil {
		s.logger.Error("server: probe dispatch failed", "error", "no sweeper configured")
		writeError(w, http.StatusInternalServerError, "probe dispatch failed")
		return
	}

	// The sweep outlives the request; detach it from the request context.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.sweeper.Run(ctx, limit); err != nil {
			s.logger.Error("server: probe sweep failed", "error", err)
		}
	}()

	resp := map[string]any{
		"status":  "scheduled",
		"message": "probe sweep dispatched",
	}
	if limit > 0 {
		resp["limit"] = limit
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
