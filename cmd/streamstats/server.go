package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/streamstats/internal/api"
	"github.com/goodtune/streamstats/internal/authz"
	"github.com/goodtune/streamstats/internal/config"
	"github.com/goodtune/streamstats/internal/metrics"
	"github.com/goodtune/streamstats/internal/notify"
	"github.com/goodtune/streamstats/internal/presence"
	"github.com/goodtune/streamstats/internal/session"
	"github.com/goodtune/streamstats/internal/storage"
	"github.com/goodtune/streamstats/internal/storage/redis"
	"github.com/goodtune/streamstats/internal/systemd"
	"github.com/goodtune/streamstats/internal/tally"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start streamstats server",
	Long:  `Start the streamstats server: recover open sessions, then serve the API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting streamstats")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	notifier, closeNotifier, err := setupNotifier(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	defer closeNotifier()

	engine := session.NewEngine(store.Sessions(),
		session.WithNotifier(notifier),
		session.WithLogger(logger),
	)

	authorizer, err := authz.New(cfg.Admin.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize admin policy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Recover before accepting any signal
	report, err := engine.Recover(ctx, presenceSource(cfg.Recovery))
	if err != nil {
		return fmt.Errorf("failed to recover sessions: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr:  fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		Leaderboard: cfg.Leaderboard,
		MaxHours:    cfg.Admin.MaxHours,
	}, engine, tally.NewService(store.Totals(), logger), authorizer, logger)

	metricsServer := metrics.NewServer(fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort), logger)

	// Use systemd socket-activated listeners if available
	if sdListeners.Activated {
		if sdListeners.API != nil {
			apiServer.SetListener(sdListeners.API)
		}
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Serve)
	g.Go(metricsServer.Serve)
	g.Go(func() error {
		return systemd.Watchdog(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")

		if err := systemd.NotifyStopping(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	logger.Info().
		Int("recovered", report.Opened).
		Int("already_open", report.AlreadyOpen).
		Int("stale", len(report.Stale)).
		Msg("streamstats startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	_ = systemd.NotifyStatus(fmt.Sprintf("Tracking; %d sessions recovered", report.Opened))

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("streamstats stopped")
	return nil
}

// presenceSource returns the configured snapshot file, or an empty source.
func presenceSource(cfg config.RecoveryConfig) presence.Source {
	if cfg.PresenceFile == "" {
		return presence.Static{}
	}
	return presence.NewFile(cfg.PresenceFile)
}

// setupNotifier builds the event fan-out. The returned func releases any
// connection opened only for publishing.
func setupNotifier(cfg *config.Config, store storage.Store, logger zerolog.Logger) (notify.Notifier, func(), error) {
	var notifiers notify.Multi
	closer := func() {}

	if cfg.Notify.LogEvents {
		notifiers = append(notifiers, notify.NewLog(logger))
	}

	if cfg.Notify.RedisChannel != "" {
		if rs, ok := store.(*redis.Store); ok {
			notifiers = append(notifiers, notify.NewRedisPublisher(rs.Client(), cfg.Notify.RedisChannel))
		} else {
			conn, err := redis.Open(cfg.Storage.Redis)
			if err != nil {
				return nil, nil, err
			}
			closer = func() {
				if err := conn.Close(); err != nil {
					logger.Error().Err(err).Msg("Failed to close notification connection")
				}
			}
			notifiers = append(notifiers, notify.NewRedisPublisher(conn.Client(), cfg.Notify.RedisChannel))
		}

		logger.Info().Str("channel", cfg.Notify.RedisChannel).Msg("Publishing session events to Redis")
	}

	if len(notifiers) == 0 {
		return notify.Discard{}, closer, nil
	}
	return notifiers, closer, nil
}
