// Command matcher runs one fetch-match-persist batch and exits: 0 when
// the run completed (per-alert skips included), 1 on a run-level
// failure such as reference data or persistence trouble.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/alert-district-etl/internal/adapter/registry"
	"github.com/couchcryptid/alert-district-etl/internal/adapter/senamhi"
	"github.com/couchcryptid/alert-district-etl/internal/config"
	"github.com/couchcryptid/alert-district-etl/internal/observability"
	"github.com/couchcryptid/alert-district-etl/internal/pipeline"
	"github.com/couchcryptid/alert-district-etl/internal/render"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml, ./config/config.yaml)")
	noMaps := flag.Bool("no-maps", false, "skip rendering per-alert maps")
	flag.Parse()

	os.Exit(run(*configPath, *noMaps))
}

func run(configPath string, noMaps bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, history, err := buildRunner(ctx, cfg, !noMaps, logger, metrics)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer history.Close() //nolint:errcheck // process is exiting

	if err := runner.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}
	return 0
}

func buildRunner(ctx context.Context, cfg *config.Config, renderMaps bool, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Runner, *store.HistoryStore, error) {
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

	var maps pipeline.MapRenderer
	if renderMaps {
		renderer, err := render.NewRenderer(reg.Districts(), cfg.Paths.MapsDir, cfg.Region.Name)
		if err != nil {
			history.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("init map renderer: %w", err)
		}
		maps = renderer
	}

	runner := pipeline.NewRunner(matcher, store.NewCSVFile(cfg.Paths.OutputCSV), history, maps,
		cfg.History.RetentionDays, logger, metrics)
	return runner, history, nil
}
