package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/zen/internal/api"
	"github.com/goodtune/zen/internal/config"
	"github.com/goodtune/zen/internal/limit"
	"github.com/goodtune/zen/internal/metrics"
	"github.com/goodtune/zen/internal/pulse"
	"github.com/goodtune/zen/internal/report"
	"github.com/goodtune/zen/internal/storage"
	"github.com/goodtune/zen/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Zen server",
	Long:  `Start the Zen server with the pulse batcher, the message/report API, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Zen")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Storage is migrated once when it is opened
	store, err := openStorage(cfg.Storage, logger)
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

	reports := report.NewService(store.Pulses(), report.Config{
		CacheSize: cfg.Report.CacheSize,
		CacheTTL:  parseDuration(cfg.Report.CacheTTL, report.DefaultCacheTTL),
	}, logger)

	rollover := report.NewRollover(reports, logger)
	rollover.Start()
	defer rollover.Stop()

	engine, err := limit.NewEngine(cfg.Limits.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize limit engine: %w", err)
	}
	checker := limit.NewChecker(engine, store.Limits(), reports, logger)

	logger.Info().
		Strs("policies", engine.Policies()).
		Msg("Limit engine initialized")

	batcher := pulse.NewBatcher(store.Pulses(), pulse.Config{
		MaxDelay:        parseDuration(cfg.Pulse.MaxFlushDelay, pulse.DefaultMaxDelay),
		QueueSize:       cfg.Pulse.QueueSize,
		ShutdownTimeout: parseDuration(cfg.Pulse.ShutdownTimeout, pulse.DefaultShutdownTimeout),
		OnWrite: func(record storage.Pulse, _ uint64) {
			reports.Invalidate(record.StartTime)
		},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batcherErr := make(chan error, 1)
	go func() {
		batcherErr <- batcher.Run(ctx)
	}()
	stopBatcher := func() {
		cancel()
		if err := <-batcherErr; err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warn().Msg("Pulse batcher did not drain before the shutdown timeout")
			} else {
				logger.Error().Err(err).Msg("Pulse batcher stopped with error")
			}
		}
	}

	// Initialize API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	handler := api.NewHandler(batcher, store, reports, checker, logger)
	apiServer := api.NewServer(api.Config{
		ListenAddr:     apiAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, handler, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		stopBatcher()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			_ = apiServer.Stop()
			stopBatcher()
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("Zen startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("Systemd watchdog stopped")
		}
	}()

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading limit policies...")
		_ = systemd.NotifyReloading()
		if err := engine.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload limit policies")
		} else {
			reports.Purge()
			logger.Info().Strs("policies", engine.Policies()).Msg("Limit policies reloaded")
		}
		_ = systemd.NotifyReady()
	}
	signal.Stop(sigChan)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop accepting pulses first so the final drain sees everything
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	stopBatcher()
	stats := batcher.Stats()
	logger.Info().
		Uint64("received", stats.Received).
		Uint64("written", stats.Written).
		Uint64("failed", stats.Failed).
		Msg("Pulse batcher drained")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
		shutdownCancel()
	}

	logger.Info().Msg("Zen stopped")

	return nil
}
