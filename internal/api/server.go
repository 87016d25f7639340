package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gdg-hunt/cryptic-hunt/internal/auth"
	"github.com/gdg-hunt/cryptic-hunt/internal/config"
	"github.com/gdg-hunt/cryptic-hunt/internal/hunt"
	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
	"github.com/gdg-hunt/cryptic-hunt/internal/leaderboard"
	"github.com/gdg-hunt/cryptic-hunt/internal/services"
)

// Identity is the sign-in side of the identity service
type Identity interface {
	ForBrowser(sid string) identity.Provider
	CompleteSignIn(ctx context.Context, sid, state, code string) (string, error)
}

// Store is every remote read the live views perform
type Store interface {
	hunt.Store
	auth.ProfileSource
	leaderboard.Source
}

// Deps are the collaborators of a configured server. A zero Deps serves the
// configuration page only.
type Deps struct {
	Identity Identity
	Store    Store
	Registry *services.Registry
	Changes  leaderboard.Trigger
}

// Server represents the HTTP server
type Server struct {
	config *config.Config
	deps   Deps
	views  *renderer
	router *chi.Mux
}

// NewServer creates a new server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	views, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load views: %w", err)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		views:  views,
	}
	s.setupRouter()
	return s, nil
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// Degraded reports whether the server only serves the configuration page
func (s *Server) Degraded() bool {
	return s.config.Degraded() || s.deps.Identity == nil || s.deps.Store == nil
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.Server.PublicURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/static/*", s.views.static)

	if s.Degraded() {
		slog.Warn("backend or identity not configured, serving configuration page",
			"missing", s.config.MissingSettings(),
		)
		r.NotFound(s.handleConfigPage)
		r.MethodNotAllowed(s.handleConfigPage)
		s.router = r
		return
	}

	r.Group(func(r chi.Router) {
		r.Use(s.browserMiddleware)

		// Websockets outlive any request timeout
		r.With(s.requireSession).Get("/ws/hunt", s.handleHuntSocket)
		r.With(s.requireSession).Get("/ws/leaderboard", s.handleBoardSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/signin", s.handleSignInPage)
			r.Post("/auth/signin", s.handleSignIn)
			r.Get("/auth/callback", s.handleCallback)
			r.Post("/auth/signout", s.handleSignOut)

			r.With(s.requireSession).Get("/hunt", s.handleHuntPage)
			r.With(s.requireSession).Get("/leaderboard", s.handleBoardPage)

			r.Route("/api/v1", func(r chi.Router) {
				r.Use(s.requireSessionAPI)
				r.Get("/leaderboard", s.handleLeaderboard)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hunt", http.StatusFound)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
