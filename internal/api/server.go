// Package api is the HTTP surface: activity signals from the gateway, and
// lookups, rankings and admin adjustments from the command surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goodtune/streamstats/internal/authz"
	"github.com/goodtune/streamstats/internal/config"
	"github.com/goodtune/streamstats/internal/session"
	"github.com/goodtune/streamstats/internal/tally"
	"github.com/rs/zerolog"
)

// PermissionsHeader carries the caller's comma-separated community permissions.
const PermissionsHeader = "X-Streamstats-Permissions"

// Config holds API server settings.
type Config struct {
	ListenAddr  string
	Leaderboard config.LeaderboardConfig
	MaxHours    float64
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	engine   *session.Engine
	tally    *tally.Service
	authz    *authz.Authorizer
	server   *http.Server
	router   chi.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, engine *session.Engine, tallies *tally.Service, authorizer *authz.Authorizer, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		engine: engine,
		tally:  tallies,
		authz:  authorizer,
		router: chi.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/v1/communities/{community}", func(r chi.Router) {
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/sessions/active", s.handleActiveSessions)
		r.With(s.requireAdmin("reset_all")).Delete("/hours", s.handleResetAll)

		r.Route("/members/{member}", func(r chi.Router) {
			r.Get("/", s.handleLookup)
			r.Post("/activity/start", s.handleActivityStart)
			r.Post("/activity/stop", s.handleActivityStop)

			r.With(s.requireAdmin("add")).Post("/hours/add", s.handleAddHours)
			r.With(s.requireAdmin("deduct")).Post("/hours/deduct", s.handleDeductHours)
			r.With(s.requireAdmin("set")).Put("/hours", s.handleSetHours)
			r.With(s.requireAdmin("reset")).Delete("/hours", s.handleResetUser)
		})
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")

	var err error
	if s.listener != nil {
		s.logger.Debug().Msg("Using pre-created API listener")
		err = s.server.Serve(s.listener)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Ready: s.engine.Ready()})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
