// Package web serves the JSON API and the SSE event stream.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/scanner"
	"github.com/saltyorg/chtsubs/internal/scheduler"
	"github.com/saltyorg/chtsubs/internal/watcher"
	"github.com/saltyorg/chtsubs/internal/web/handlers"
	"github.com/saltyorg/chtsubs/internal/web/middleware"
	"github.com/saltyorg/chtsubs/internal/web/sse"
)

// Config controls the HTTP server.
type Config struct {
	Port       int
	Bind       string
	AllowedNet *net.IPNet
	// AuthUsername enables basic auth when non-empty.
	AuthUsername string
	AuthPassword string
	Version      string
	// ScanOpts supplies default options for API-triggered scans.
	ScanOpts func() scanner.Options
}

// Server represents the web server
type Server struct {
	config    Config
	router    *chi.Mux
	sseBroker *sse.Broker
	handlers  *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(db *database.DB, sc *scanner.Scanner, config Config) *Server {
	if config.ScanOpts == nil {
		config.ScanOpts = func() scanner.Options { return scanner.Options{} }
	}

	s := &Server{
		config:    config,
		router:    chi.NewRouter(),
		sseBroker: sse.NewBroker(),
	}
	s.handlers = handlers.New(db, sc, s.sseBroker, config.ScanOpts, config.Version)
	s.setupRoutes()
	return s
}

// SSEBroker returns the SSE broker for broadcasting events
func (s *Server) SSEBroker() *sse.Broker {
	return s.sseBroker
}

// SetScheduler wires the cron scheduler into status reporting.
func (s *Server) SetScheduler(m *scheduler.Manager) {
	s.handlers.SetScheduler(m)
}

// SetWatcher wires the change watcher into status reporting.
func (s *Server) SetWatcher(w *watcher.Watcher) {
	s.handlers.SetWatcher(w)
}

// Router returns the HTTP handler, exposed for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(middleware.AllowSubnet(s.config.AllowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.BasicAuth(s.config.AuthUsername, s.config.AuthPassword))

	// SSE endpoint - no timeout (long-lived connections)
	r.Group(func(r chi.Router) {
		r.Get("/api/events", s.sseBroker.ServeHTTP)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Get("/health", s.handlers.Health)
		r.Get("/status", s.handlers.Status)
		r.Post("/scan", s.handlers.Scan)
		r.Get("/scan/status", s.handlers.ScanStatus)
		r.Get("/history", s.handlers.History)
		r.Get("/config", s.handlers.Config)
		r.Put("/config", s.handlers.UpdateConfig)
	})
}

// Start starts the web server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.config.Bind != "" {
		addr = fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	} else {
		addr = fmt.Sprintf(":%d", s.config.Port)
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.sseBroker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
