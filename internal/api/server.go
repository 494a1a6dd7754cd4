// Package api serves the player's HTTP status API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/health"
	"github.com/zsiec/moqplay/internal/player"
	"github.com/zsiec/moqplay/internal/session"
)

// PlayerView is the read-only part of a player the API reports on.
type PlayerView interface {
	Info() player.Info
	Summary() (session.Summary, bool)
}

// Server is the HTTP status API.
type Server struct {
	config       *config.APIConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	player       PlayerView
	store        session.Store
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	limiter      *rate.Limiter
}

// New creates a server with its routes registered. store may be nil.
func New(cfg *config.APIConfig, log *logrus.Logger, p PlayerView, store session.Store) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		player:       p,
		store:        store,
		healthMgr:    health.NewManager(log),
		errorHandler: errors.NewErrorHandler(log),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s.healthMgr.Register(health.NewPlaybackChecker(func() (string, bool) {
		st := p.Info().Status
		return st.State, st.State == player.StateBuffering.String() && st.IsRebuffering
	}))

	s.setupRoutes()
	return s
}

// RegisterChecker adds a health checker reported by /health.
func (s *Server) RegisterChecker(c health.Checker) {
	s.healthMgr.Register(c)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	interval := s.config.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go s.healthMgr.StartPeriodicChecks(ctx, interval)

	s.logger.WithField("port", s.config.Port).Info("Starting status API")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status API failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down status API")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown status API: %w", err)
	}
	return nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
