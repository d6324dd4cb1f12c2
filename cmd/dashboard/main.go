// Command dashboard serves the JSON API over the alert history: active
// alerts, history windows, per-district lookups, PDF reports and the
// rendered maps.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/alert-district-etl/internal/config"
	"github.com/couchcryptid/alert-district-etl/internal/dashboard"
	"github.com/couchcryptid/alert-district-etl/internal/observability"
	"github.com/couchcryptid/alert-district-etl/internal/report"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml, ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, err := store.NewHistoryStore(cfg.Paths.Database)
	if err != nil {
		logger.Error("open history database", "error", err)
		os.Exit(1)
	}
	defer history.Close() //nolint:errcheck // process is exiting
	if err := history.Init(ctx); err != nil {
		logger.Error("init history database", "error", err)
		os.Exit(1)
	}

	reports := report.NewGenerator(cfg.Paths.ReportsDir, cfg.Region.Name, logger)

	srv := dashboard.NewServer(dashboard.Options{
		Addr:     cfg.Dashboard.Addr,
		MapsDir:  cfg.Paths.MapsDir,
		CacheTTL: cfg.Dashboard.CacheTTL,
	}, history, reports, logger, metrics)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dashboard server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("dashboard shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
