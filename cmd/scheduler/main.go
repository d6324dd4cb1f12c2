// Command scheduler runs the alert matching batch at the configured
// check times and serves health, readiness and metrics endpoints. It
// performs one run immediately at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/alert-district-etl/internal/adapter/http"
	"github.com/couchcryptid/alert-district-etl/internal/adapter/registry"
	"github.com/couchcryptid/alert-district-etl/internal/adapter/senamhi"
	"github.com/couchcryptid/alert-district-etl/internal/config"
	"github.com/couchcryptid/alert-district-etl/internal/observability"
	"github.com/couchcryptid/alert-district-etl/internal/pipeline"
	"github.com/couchcryptid/alert-district-etl/internal/render"
	"github.com/couchcryptid/alert-district-etl/internal/scheduler"
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

	runner, history, err := buildRunner(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer history.Close() //nolint:errcheck // process is exiting

	sched, err := scheduler.New(runner, cfg.Schedule.CheckTimes, cfg.Schedule.Timezone, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HealthAddr, runner, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start performs the initial run synchronously; keep signals live.
	go sched.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Runner, *store.HistoryStore, error) {
	reg, err := registry.Load(ctx, registry.Options{
		Dir:         cfg.Paths.ReferenceDir,
		Prefix:      cfg.Region.Prefix,
		DownloadURL: cfg.Paths.ReferenceURL,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference data: %w", err)
	}

	bulletin := senamhi.NewBulletinClient(cfg.Source.PageURL, cfg.Source.PageTimeout, logger)
	wfs := senamhi.NewWFSClient(cfg.Source.WFSURL, cfg.Source.WFSTimeout, logger)

	matcher := pipeline.New(bulletin, wfs, reg, pipeline.Options{
		Department:   cfg.Region.Department,
		FallbackYear: cfg.Source.FallbackYear,
		Parallel:     cfg.Matcher.Parallel,
		Workers:      cfg.Matcher.Workers,
	}, logger, metrics)

	history, err := store.NewHistoryStore(cfg.Paths.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open history database: %w", err)
	}
	if err := history.Init(ctx); err != nil {
		history.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("init history database: %w", err)
	}

	renderer, err := render.NewRenderer(reg.Districts(), cfg.Paths.MapsDir, cfg.Region.Name)
	if err != nil {
		history.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("init map renderer: %w", err)
	}

	runner := pipeline.NewRunner(matcher, store.NewCSVFile(cfg.Paths.OutputCSV), history, renderer,
		cfg.History.RetentionDays, logger, metrics)
	return runner, history, nil
}
