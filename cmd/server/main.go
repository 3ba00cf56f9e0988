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

	"github.com/JonMunkholm/stockroom/internal/application"
	"github.com/JonMunkholm/stockroom/internal/config"
	_ "github.com/JonMunkholm/stockroom/internal/core/tables" // Register products, customers and suppliers
	"github.com/JonMunkholm/stockroom/internal/logging"
	"github.com/JonMunkholm/stockroom/internal/web"
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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_concurrency", cfg.Import.Concurrency,
		"max_concurrent_imports", cfg.Import.MaxConcurrentImports,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"tracking_enabled", cfg.Tracking.TrackingEnabled(),
	)

	ctx := context.Background()
	app, err := application.Open(ctx, cfg, "stockroom-server", slog.Default())
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	entities := app.Service.Entities()
	keys := make([]string, len(entities))
	for i, e := range entities {
		keys[i] = e.Key
	}
	slog.Info("entities registered", "count", len(entities), "keys", keys)

	// Background work stops when bgCtx is cancelled.
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	go app.Service.Jobs().StartCleanup(bgCtx, cfg.Import.JobCleanupInterval)

	shipments := app.Tracking(bgCtx)
	opts := web.Options{
		Tracking: shipments,
		Breakers: app.Breakers,
		Metrics:  app.Metrics.Handler(),
	}
	if shipments != nil && cfg.Tracking.PollInterval > 0 {
		shipments.StartPolling(bgCtx, cfg.Tracking.PollInterval)
	}

	server := web.NewServer(cfg, app.Service, opts)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then let running imports and jobs finish.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := app.Service.Status()
		if status.Imports.Active > 0 || status.Jobs.Pending+status.Jobs.Processing > 0 {
			slog.Info("waiting for imports to complete",
				"imports", status.Imports.Active,
				"jobs", status.Jobs.Pending+status.Jobs.Processing,
			)
		}
		if err := app.Service.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	<-drained
	slog.Info("server stopped")
}
