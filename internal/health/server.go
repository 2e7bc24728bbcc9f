package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Check reports whether one component is alive
type Check func() bool

// Status is the /health response body
type Status struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// Server exposes liveness plus any extra handlers mounted on it
type Server struct {
	server *http.Server
	router chi.Router
	log    *zap.Logger

	mu     sync.RWMutex
	checks map[string]Check
}

// New creates a server listening on addr
func New(addr string, log *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    log.Named("http"),
		checks: make(map[string]Check),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddCheck registers a named liveness check. /health is 200 only while every check passes.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Mount serves h under pattern, for /metrics and /ws
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

// Evaluate runs every check
func (s *Server) Evaluate() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Status: "ok", Checks: make(map[string]bool, len(s.checks))}
	for name, c := range s.checks {
		ok := c()
		st.Checks[name] = ok
		if !ok {
			st.Status = "unavailable"
		}
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Evaluate()
	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
		failing := make([]string, 0, len(st.Checks))
		for name, ok := range st.Checks {
			if !ok {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)
		s.log.Debug("health check failing", zap.Strings("checks", failing))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}
