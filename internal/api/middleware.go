package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/streamstats/internal/authz"
	"github.com/goodtune/streamstats/internal/metrics"
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs every request and records request metrics.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response writer wrapper to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// requireAdmin rejects callers whose permissions do not pass the admin policy.
func (s *Server) requireAdmin(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := authz.Request{
				Community:   chi.URLParam(r, "community"),
				Member:      chi.URLParam(r, "member"),
				Action:      action,
				Permissions: authz.ParsePermissions(r.Header.Get(PermissionsHeader)),
			}

			allowed, err := s.authz.Allow(r.Context(), req)
			if err != nil {
				s.logger.Error().Err(err).Str("action", action).Msg("Admin policy evaluation failed")
				WriteError(w, http.StatusInternalServerError, "Failed to evaluate admin policy")
				return
			}
			if !allowed {
				s.logger.Warn().
					Str("community", req.Community).
					Str("action", action).
					Strs("permissions", req.Permissions).
					Msg("Admin request denied")
				WriteError(w, http.StatusForbidden, "Manage Server or Administrator permission required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
