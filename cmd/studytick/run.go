package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/studytick/studytick/internal/accounting/redis"
	"github.com/studytick/studytick/internal/cache"
	"github.com/studytick/studytick/internal/config"
	"github.com/studytick/studytick/internal/engine"
	"github.com/studytick/studytick/internal/groups"
	"github.com/studytick/studytick/internal/lifecycle"
	"github.com/studytick/studytick/internal/metrics"
	"github.com/studytick/studytick/internal/systemd"
)

var runUserID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the accounting engine for a user",
	Long: `Run starts the tick scheduler and session lifecycle for one user and
keeps them running until a termination signal arrives.

Host lifecycle signals map to POSIX signals:
  SIGTSTP  app backgrounded (pause + flush)
  SIGCONT  app foregrounded (resume)
  SIGINT/SIGTERM  graceful close (flush + teardown)
  SIGQUIT  forced close (fire-and-forget beacon)`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVarP(&runUserID, "user", "u", "", "User ID to account time for")
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting studytick")

	userID := runUserID
	if userID == "" {
		userID = os.Getenv("STUDYTICK_USER")
	}
	if userID == "" {
		return engine.ErrNoUser
	}

	// Durable cache, degrading to memory-only counting when unavailable
	var timeCache cache.Cache
	boltCache, err := cache.OpenBolt(cfg.Cache.Path)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Cache.Path).
			Msg("Durable cache unavailable, counting in memory for this run")
		metrics.CacheFallbacks.Inc()
		timeCache = cache.NewMemory()
	} else {
		timeCache = boltCache
	}
	defer func() {
		if err := timeCache.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close time cache")
		}
	}()

	remote, err := redis.Open(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect accounting store: %w", err)
	}
	defer func() {
		if err := remote.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close accounting store")
		}
	}()

	logger.Info().Str("host", cfg.Redis.Host).Msg("Accounting store connected")

	membershipTTL := parseDuration(cfg.Engine.MembershipCacheTTL, 30*time.Second)
	provider := groups.NewRedisProvider(remote.Redis(), membershipTTL, logger)

	eng := engine.New(engine.Options{
		Cache:             timeCache,
		Remote:            remote,
		Groups:            provider,
		Logger:            logger,
		TickInterval:      parseDuration(cfg.Engine.TickInterval, engine.DefaultTickInterval),
		PointsEveryTicks:  cfg.Engine.PointsEveryTicks,
		FlushEveryTicks:   cfg.Engine.FlushEveryTicks,
		PointsDebounce:    parseDuration(cfg.Engine.PointsDebounce, engine.DefaultPointsDebounce),
		TotalTimeDebounce: parseDuration(cfg.Engine.TotalTimeDebounce, engine.DefaultTotalTimeDebounce),
	})

	var beacon lifecycle.Beacon = lifecycle.NopBeacon{}
	if cfg.Beacon.Addr != "" {
		udpBeacon, err := lifecycle.NewUDPBeacon(cfg.Beacon.Addr)
		if err != nil {
			logger.Error().Err(err).Str("addr", cfg.Beacon.Addr).Msg("Beacon disabled")
		} else {
			beacon = udpBeacon
			defer func() { _ = udpBeacon.Close() }()
		}
	}

	coordinator := lifecycle.NewCoordinator(eng, beacon, nil, lifecycle.Config{
		UserID:        userID,
		ForegroundGap: parseDuration(cfg.Engine.ForegroundGap, lifecycle.DefaultForegroundGap),
	}, logger)

	// Metrics server, socket-activated under systemd when available
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer := metrics.NewServer(metricsAddr, logger)

		listeners, err := systemd.GetListeners()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to query systemd listeners")
		} else if listeners.Metrics != nil {
			metricsServer.SetListener(listeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")
	}

	ctx := context.Background()
	if err := eng.Start(ctx, userID); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Debug().Err(err).Msg("sd_notify ready not sent")
	}

	logger.Info().Str("user_id", userID).Msg("Studytick startup complete")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGQUIT, os.Interrupt, syscall.SIGTERM)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGTSTP:
			logger.Info().Msg("Backgrounded signal received")
			coordinator.Background(ctx)
		case syscall.SIGCONT:
			logger.Info().Msg("Foregrounded signal received")
			coordinator.Foreground(ctx)
		case syscall.SIGQUIT:
			logger.Warn().Msg("Forced close signal received")
			coordinator.ForceClose()
			return nil
		default:
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			if err := systemd.NotifyStopping(); err != nil {
				logger.Debug().Err(err).Msg("sd_notify stopping not sent")
			}
			coordinator.GracefulClose(ctx)
			logger.Info().Msg("Studytick stopped")
			return nil
		}
	}
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
