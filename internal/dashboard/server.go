// Package dashboard exposes a read-only HTTP status surface: the last
// normalized tick and the most recent decision cycle outcome.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/manager"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// TickSource provides the latest tick and feed counters.
type TickSource interface {
	LastTick() (models.Tick, bool)
	Stats() (malformed, dropped uint64)
}

// Config holds dashboard server settings.
type Config struct {
	Port int
}

// Server serves engine status over HTTP. It never mutates engine state.
type Server struct {
	router *chi.Mux
	server *http.Server
	ticks  TickSource
	logger *logrus.Logger
	port   int

	mu          sync.RWMutex
	lastOutcome *manager.Outcome
}

// NewServer creates a dashboard server over the given tick source.
func NewServer(cfg Config, ticks TickSource, logger *logrus.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		ticks:  ticks,
		logger: logger,
		port:   cfg.Port,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/tick", s.handleTick)
	s.router.Get("/api/cycle", s.handleCycle)
}

// RecordOutcome stores the most recent decision cycle outcome for display.
func (s *Server) RecordOutcome(o manager.Outcome) {
	s.mu.Lock()
	s.lastOutcome = &o
	s.mu.Unlock()
}

// Handler returns the router, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("dashboard: listening on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTick(w http.ResponseWriter, _ *http.Request) {
	tick, ok := s.ticks.LastTick()
	malformed, dropped := s.ticks.Stats()
	resp := map[string]interface{}{
		"has_tick":  ok,
		"malformed": malformed,
		"dropped":   dropped,
	}
	if ok {
		resp["tick"] = tick
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleCycle(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	outcome := s.lastOutcome
	s.mu.RUnlock()
	if outcome == nil {
		s.writeJSON(w, map[string]interface{}{"has_outcome": false})
		return
	}
	s.writeJSON(w, outcome)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("dashboard: failed to encode response")
	}
}
