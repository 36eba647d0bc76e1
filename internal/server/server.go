// Package server provides the Cognition HTTP/SSE surface: the 10-route
// session/message API described in SPEC_FULL.md §6.1, wired over the core
// components (C1-C7) rather than any transport concern of its own.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cognition-sh/cognition/internal/message"
	"github.com/cognition-sh/cognition/internal/ratelimit"
	"github.com/cognition-sh/cognition/internal/scope"
	"github.com/cognition-sh/cognition/internal/session"
	"github.com/cognition-sh/cognition/internal/storage"
)

// Config holds transport-level server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses must not be write-deadlined
	}
}

// Server is the Cognition HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	backend  storage.Backend
	sessions *session.Manager
	scopeH   *scope.Harness
	limiter  *ratelimit.Limiter
	messages *message.Service

	startedAt time.Time
	version   string
}

// New wires a Server over the already-constructed core components.
func New(cfg *Config, backend storage.Backend, sessions *session.Manager, scopeH *scope.Harness, limiter *ratelimit.Limiter, messages *message.Service, version string) *Server {
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		backend:   backend,
		sessions:  sessions,
		scopeH:    scopeH,
		limiter:   limiter,
		messages:  messages,
		startedAt: time.Now(),
		version:   version,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Last-Event-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start serves the HTTP server until it is stopped or errors.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP listener. It does not cancel
// active turns or close storage; the caller (cmd/cognition-server) owns
// that ordering per SPEC_FULL.md §10's graceful-lifecycle sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
