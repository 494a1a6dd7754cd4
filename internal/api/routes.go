package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/health"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/session"
	"github.com/zsiec/moqplay/pkg/version"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/player", s.handlePlayer).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/player/summary", s.handlePlayerSummary).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions", s.handleRecentSessions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.handleSession).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.player.Info())
}

// handlePlayerSummary reports the current session, or the last one if the
// player is paused.
func (s *Server) handlePlayerSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.player.Summary()
	if !ok {
		s.errorHandler.HandleError(w, r, errors.NewNotFoundError("session"))
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorHandler.HandleError(w, r, errors.NewInvalidRequestError("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	summaries := []session.Summary{}
	if s.store != nil {
		recent, err := s.store.Recent(r.Context(), limit)
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		summaries = append(summaries, recent...)
	}
	s.writeJSON(w, r, http.StatusOK, summaries)
}

// handleSession serves the player's own session directly and falls back to
// the store for earlier ones.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if summary, ok := s.player.Summary(); ok && summary.SessionID == id {
		s.writeJSON(w, r, http.StatusOK, summary)
		return
	}
	if s.store == nil {
		s.errorHandler.HandleError(w, r, errors.NewNotFoundError("session "+id))
		return
	}

	summary, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context(), s.logger).WithError(err).Error("Failed to encode response")
	}
}
