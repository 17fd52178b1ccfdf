// Package web is the transport edge: the HTTP API, the OAuth
// round trip, and the websocket channel every client speaks over.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	"github.com/jamsesh/jamsesh/internal/config"
	"github.com/jamsesh/jamsesh/internal/room"
	"github.com/jamsesh/jamsesh/internal/spotify"
)

// Authorizer is the OAuth surface of the provider client.
type Authorizer interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, spotify.Identity, error)
}

// Server is the HTTP server for the room.
type Server struct {
	cfg    *config.Config
	room   *room.Room
	auth   Authorizer
	router chi.Router
	server *http.Server
}

// NewServer wires the router and handlers around a room.
func NewServer(cfg *config.Config, rm *room.Room, auth Authorizer) *Server {
	s := &Server{
		cfg:    cfg,
		room:   rm,
		auth:   auth,
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	if s.cfg.Debug {
		s.router.Use(middleware.Logger)
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.allowFrontend)
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws", s.handleWS)

	// Auth routes
	s.router.Get("/login", s.handleLogin)
	s.router.Get("/callback", s.handleCallback)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/listener-login", s.handleListenerLogin)
		r.Post("/submit-track", s.handleSubmitTrack)
		r.Post("/master-random-liked", s.handleMasterRandomLiked)
		r.Get("/session/{id}", s.handleSession)
		r.Get("/airhorns", s.handleAirhorns)
	})
}

// allowFrontend answers CORS preflights for the configured frontend
// origin. The websocket and OAuth routes are origin-agnostic anyway.
func (s *Server) allowFrontend(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.FrontendURL)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("web: listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt
// signals. The onShutdown hook runs after the listener has stopped,
// before Run returns.
func (s *Server) Run(onShutdown func()) error {
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
		log.Println("web: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if onShutdown != nil {
		onShutdown()
	}
	log.Println("web: server stopped")
	return nil
}
