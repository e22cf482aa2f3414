package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/ledgermigrate/internal/app"
	"github.com/JonMunkholm/ledgermigrate/internal/config"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/events"
	"github.com/JonMunkholm/ledgermigrate/internal/logging"
	"github.com/JonMunkholm/ledgermigrate/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Batch lifecycle events are mirrored into the log when they stay
	// in-process.
	jobCtx, cancelJobs := context.WithCancel(ctx)
	if wp, ok := a.Publisher.(*events.WatermillPublisher); ok {
		logEvents(jobCtx, wp, logger)
	}

	go a.Service.StartMaintenance(jobCtx, app.MaintenanceConfig(cfg))

	server := web.NewServer(a.Service, a.Bundles, cfg)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running commits finish so no batch is left importing.
		if status := a.Service.Limiter().Status(); status.Active > 0 {
			logger.Info("waiting for commits to complete", "active", status.Active)
			if err := a.Service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("commits did not complete in time", "error", err)
			} else {
				logger.Info("all commits completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func logEvents(ctx context.Context, pub *events.WatermillPublisher, logger *slog.Logger) {
	names := []string{
		core.EventBatchCreated,
		core.EventBatchValidated,
		core.EventBatchCommitted,
		core.EventBatchReverted,
		core.EventExportCompleted,
	}
	for _, name := range names {
		err := pub.Listen(ctx, name, func(env events.Envelope) error {
			logger.Info("event",
				"name", env.Name,
				"event_id", env.ID,
				"request_id", env.Meta.RequestID,
				"payload", string(env.Payload),
			)
			return nil
		})
		if err != nil {
			if !errors.Is(err, events.ErrNoSubscriber) {
				logger.Warn("event listener not started", "event", name, "error", err)
			}
			return
		}
	}
}
