// Package server exposes the synthesis pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/session"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Opts holds the dependencies for a Server.
type Opts struct {
	Addr     string
	Ledger   *session.Ledger
	Analyzer *profile.Analyzer
	Gateway  *gateway.Gateway
	Logger   *log.Logger
}

// Server is the HTTP front end. It owns routing and graceful shutdown;
// all domain work is delegated to the ledger, analyzer, and gateway.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *log.Logger
}

// New creates a Server with routes and middleware configured.
func New(opts Opts) *Server {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: NewHandlers(opts.Ledger, opts.Analyzer, opts.Gateway, opts.Logger),
		logger:   opts.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.Health)

	s.router.Route("/auth/{provider}", func(r chi.Router) {
		r.Get("/login", s.handlers.Login)
		r.Get("/callback", s.handlers.Callback)
	})

	s.router.Post("/connections/{provider}/refresh", s.handlers.RefreshConnection)

	s.router.Route("/profile/{userId}", func(r chi.Router) {
		r.Get("/", s.handlers.GetProfile)
		r.Post("/refresh", s.handlers.RefreshProfile)
	})

	s.router.Post("/synthesize", s.handlers.Synthesize)

	s.router.Route("/playlists/{id}", func(r chi.Router) {
		r.Get("/", s.handlers.GetPlaylist)
		r.Post("/export/{provider}", s.handlers.ExportPlaylist)
	})
}

// requestLogger logs each request through the application logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run serves until an interrupt or termination signal arrives, then shuts
// down gracefully.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.logger.Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
