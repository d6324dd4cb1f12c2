package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/observability"
)

// ResultWriter replaces the flat-file snapshot with one run's table.
type ResultWriter interface {
	Replace(rows []domain.AffectedDistrict) error
}

// Historian accumulates run output into the alert history.
type Historian interface {
	SaveRun(ctx context.Context, rows []domain.AffectedDistrict, today time.Time) error
	RefreshStatuses(ctx context.Context, today time.Time) (int64, error)
	Cleanup(ctx context.Context, days int) (int64, error)
}

// MapRenderer draws one alert's district map and returns the written
// file path.
type MapRenderer interface {
	RenderAlert(number string, rows []domain.AffectedDistrict) (string, error)
}

// Runner executes the full batch: match, persist, render. Per-alert
// problems are absorbed by the Matcher; any error out of Run is
// run-level and callers should exit non-zero.
type Runner struct {
	matcher       *Matcher
	flatFile      ResultWriter
	history       Historian
	maps          MapRenderer
	retentionDays int
	logger        *slog.Logger
	metrics       *observability.Metrics
	ready         atomic.Bool
}

// NewRunner wires a Runner. A nil maps renderer disables map output;
// retentionDays <= 0 disables history cleanup.
func NewRunner(matcher *Matcher, flatFile ResultWriter, history Historian, maps MapRenderer, retentionDays int, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		matcher:       matcher,
		flatFile:      flatFile,
		history:       history,
		maps:          maps,
		retentionDays: retentionDays,
		logger:        logger,
		metrics:       metrics,
	}
}

// CheckReadiness returns nil once a run has completed and persisted its
// output, or an error describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no batch run has completed yet")
	}
	return nil
}

// Run executes one batch run against the current calendar day.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	today := domain.Today()
	r.logger.Info("run started", "date", today.Format(domain.DateLayout))

	rows, summary, err := r.matcher.Match(ctx, today)
	if err != nil {
		return r.fail(err)
	}

	if err := r.flatFile.Replace(rows); err != nil {
		return r.fail(fmt.Errorf("replace flat file: %w", err))
	}
	if err := r.history.SaveRun(ctx, rows, today); err != nil {
		return r.fail(fmt.Errorf("save history: %w", err))
	}

	expired, err := r.history.RefreshStatuses(ctx, today)
	if err != nil {
		return r.fail(fmt.Errorf("refresh statuses: %w", err))
	}
	if expired > 0 {
		r.logger.Info("alerts expired", "count", expired)
	}

	if r.retentionDays > 0 {
		purged, err := r.history.Cleanup(ctx, r.retentionDays)
		if err != nil {
			// Retention is housekeeping; the run's output is already safe.
			r.logger.Warn("history cleanup failed", "error", err)
		} else if purged > 0 {
			r.logger.Info("history purged", "alerts", purged)
		}
	}

	r.renderMaps(rows)

	summary.Duration = time.Since(start)
	r.metrics.AffectedRows.Add(float64(summary.Affected))
	r.metrics.RunDuration.Observe(summary.Duration.Seconds())
	r.metrics.RunsTotal.WithLabelValues("success").Inc()
	r.metrics.LastSuccessfulRun.SetToCurrentTime()
	r.ready.Store(true)

	r.logger.Info("run complete",
		"processed", summary.Processed,
		"affected", summary.Affected,
		"skipped", len(summary.Skipped),
		"duration", summary.Duration,
	)
	return nil
}

func (r *Runner) fail(err error) error {
	r.metrics.RunsTotal.WithLabelValues("failure").Inc()
	return err
}

// renderMaps draws one map per alert in first-appearance order. A
// rendering problem spoils that map only, never the run.
func (r *Runner) renderMaps(rows []domain.AffectedDistrict) {
	if r.maps == nil {
		return
	}

	byAlert := make(map[string][]domain.AffectedDistrict)
	var order []string
	for _, row := range rows {
		if _, seen := byAlert[row.Number]; !seen {
			order = append(order, row.Number)
		}
		byAlert[row.Number] = append(byAlert[row.Number], row)
	}

	for _, number := range order {
		path, err := r.maps.RenderAlert(number, byAlert[number])
		if err != nil {
			r.logger.Warn("map render failed", "alert", number, "error", err)
			continue
		}
		r.logger.Info("map rendered", "alert", number, "path", path)
	}
}
