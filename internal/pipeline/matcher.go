// Package pipeline runs the alert matching batch: bulletin rows in,
// deduplicated affected-district rows out. Matcher produces the table,
// Runner persists and renders it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/observability"
)

// errNoGeometry marks a download that yielded no features at all. The
// alert is skipped like any other fetch failure, under its own metric
// reason.
var errNoGeometry = errors.New("geometry download produced no features")

// Skip reasons used as metric labels.
const (
	skipDates    = "dates"
	skipFetch    = "fetch"
	skipGeometry = "geometry"
)

// Options tunes one Matcher.
type Options struct {
	// Department is the region name stamped on every output row.
	Department string

	// FallbackYear keys the geometry request when the issue date has no
	// leading 4-digit year.
	FallbackYear string

	// Parallel enables bounded-concurrent geometry fetches with Workers
	// goroutines. Output order is alert-stable either way.
	Parallel bool
	Workers  int
}

// Matcher turns the published bulletin into affected-district rows.
// Per-alert failures skip that alert and the run continues; Match only
// errors on cancellation or a failing bulletin fetch.
type Matcher struct {
	source   domain.BulletinSource
	fetcher  domain.GeometryFetcher
	registry domain.Registry
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Matcher with the given stages and observability.
func New(source domain.BulletinSource, fetcher domain.GeometryFetcher, registry domain.Registry, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Matcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Matcher{
		source:   source,
		fetcher:  fetcher,
		registry: registry,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// Match runs one batch against the given calendar day: fetch the
// bulletin, keep the alerts still in force, fetch and intersect each
// one's geometry, and dedupe the combined table. Rows keep bulletin
// order regardless of fetch concurrency.
func (m *Matcher) Match(ctx context.Context, today time.Time) ([]domain.AffectedDistrict, domain.RunSummary, error) {
	summary := domain.RunSummary{
		StartedAt: time.Now(),
		Skipped:   make(map[string]string),
	}

	raw, err := m.source.FetchAlerts(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("fetch bulletin: %w", err)
	}

	parsed := make([]domain.Alert, 0, len(raw))
	for _, r := range raw {
		a, err := domain.ParseAlert(r)
		if err != nil {
			m.logger.Warn("bulletin row excluded", "number", r.Number, "error", err)
			m.metrics.AlertsSkipped.WithLabelValues(skipDates).Inc()
			summary.Skipped[r.Number] = err.Error()
			continue
		}
		parsed = append(parsed, a)
	}

	active := domain.FilterActive(parsed, today)
	m.metrics.ActiveAlerts.Set(float64(len(active)))
	m.logger.Info("bulletin fetched", "rows", len(raw), "active", len(active))

	// Results land in position-indexed slices so output order stays
	// alert-stable under concurrency; skips are classified on the main
	// goroutine afterwards.
	results := make([][]domain.AffectedDistrict, len(active))
	failures := make([]error, len(active))

	limit := 1
	if m.opts.Parallel {
		limit = m.opts.Workers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, alert := range active {
		g.Go(func() error {
			rows, err := m.matchAlert(gctx, alert)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait() // per-alert failures travel via the slice, never the group

	if err := ctx.Err(); err != nil {
		return nil, summary, fmt.Errorf("run cancelled: %w", err)
	}

	var rows []domain.AffectedDistrict
	for i, alert := range active {
		if err := failures[i]; err != nil {
			reason := skipFetch
			if errors.Is(err, errNoGeometry) {
				reason = skipGeometry
			}
			m.logger.Warn("alert skipped", "alert", alert.Number, "reason", reason, "error", err)
			m.metrics.AlertsSkipped.WithLabelValues(reason).Inc()
			summary.Skipped[alert.Number] = err.Error()
			continue
		}
		m.metrics.AlertsProcessed.Inc()
		summary.Processed++
		rows = append(rows, results[i]...)
	}

	rows = domain.Dedupe(rows)
	summary.Affected = len(rows)
	return rows, summary, nil
}

// matchAlert fetches one alert's geometry, drops the background layer,
// and intersects what remains against the district set. An alert whose
// download held only the background layer contributes zero rows without
// being an error.
func (m *Matcher) matchAlert(ctx context.Context, alert domain.Alert) ([]domain.AffectedDistrict, error) {
	year := domain.AlertYear(alert.Issued, m.opts.FallbackYear)

	start := time.Now()
	features, err := m.fetcher.FetchGeometry(ctx, alert.Number, year)
	m.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("alert %s: %w", alert.Number, errNoGeometry)
	}

	hazard := domain.FilterFeatures(features)
	if len(hazard) == 0 {
		m.logger.Info("alert has no hazard features", "alert", alert.Number)
		return nil, nil
	}

	rows := domain.MatchDistricts(alert, hazard, m.registry.Districts(), m.opts.Department)
	m.logger.Info("alert matched",
		"alert", alert.Number,
		"level", alert.Level,
		"features", len(hazard),
		"districts", len(rows),
	)
	return rows, nil
}
