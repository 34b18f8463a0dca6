package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_sessions_opened_total",
			Help: "Sessions opened by activity start signals",
		},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_sessions_closed_total",
			Help: "Sessions closed by activity stop signals",
		},
	)

	CreditedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_credited_seconds_total",
			Help: "Seconds credited to totals by closed sessions",
		},
	)

	DuplicateStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_duplicate_starts_total",
			Help: "Start signals that found a session already open",
		},
	)

	EmptyStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_empty_stops_total",
			Help: "Stop signals that found nothing open",
		},
	)

	RecoveredSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamstats_recovered_sessions_total",
			Help: "Sessions opened by startup recovery",
		},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamstats_storage_errors_total",
			Help: "Storage failures by operation",
		},
		[]string{"op"},
	)

	// Admin metrics
	AdminMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamstats_admin_mutations_total",
			Help: "Admin mutations applied to totals",
		},
		[]string{"action"},
	)

	// Notification metrics
	NotifyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamstats_notify_errors_total",
			Help: "Session event notifications that failed to deliver",
		},
		[]string{"notifier"},
	)

	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamstats_api_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"route", "method", "code"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamstats_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsOpened,
		SessionsClosed,
		CreditedSeconds,
		DuplicateStarts,
		EmptyStops,
		RecoveredSessions,
		StorageErrors,
		AdminMutations,
		NotifyErrors,
		RequestsTotal,
		RequestDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	var err error
	if s.listener != nil {
		// Use systemd socket-activated listener
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
		err = s.server.Serve(s.listener)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msg("Metrics server error")
		return err
	}
	return nil
}

// Shutdown stops the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
