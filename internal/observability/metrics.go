package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert matching batch and the dashboard.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,failure}
	AlertsProcessed prometheus.Counter
	AlertsSkipped   *prometheus.CounterVec // labels: reason={fetch,geometry,dates}
	AffectedRows    prometheus.Counter

	// Batch timing metrics.
	RunDuration   prometheus.Histogram
	FetchDuration prometheus.Histogram

	// Dashboard cache metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss}

	ActiveAlerts      prometheus.Gauge
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates and registers all batch metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_etl",
			Name:      "runs_total",
			Help:      "Completed batch runs by outcome.",
		}, []string{"outcome"}),
		AlertsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_etl",
			Name:      "alerts_processed_total",
			Help:      "Total active alerts handed to the spatial matcher.",
		}),
		AlertsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_etl",
			Name:      "alerts_skipped_total",
			Help:      "Alerts skipped inside a run by reason.",
		}, []string{"reason"}),
		AffectedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_etl",
			Name:      "affected_rows_total",
			Help:      "Affected-district rows written across all runs.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alert_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-match-persist batch run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alert_etl",
			Name:      "geometry_fetch_duration_seconds",
			Help:      "Per-alert geometry download and decode duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_etl",
			Name:      "dashboard_cache_total",
			Help:      "Dashboard cache lookups by result.",
		}, []string{"result"}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alert_etl",
			Name:      "active_alerts",
			Help:      "Active alerts observed by the most recent run.",
		}),
		LastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alert_etl",
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last run that persisted its output.",
		}),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.AlertsProcessed,
		m.AlertsSkipped,
		m.AffectedRows,
		m.RunDuration,
		m.FetchDuration,
		m.CacheLookups,
		m.ActiveAlerts,
		m.LastSuccessfulRun,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsTotal:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "alert_etl", Name: "runs_total"}, []string{"outcome"}),
		AlertsProcessed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "alert_etl", Name: "alerts_processed_total"}),
		AlertsSkipped:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "alert_etl", Name: "alerts_skipped_total"}, []string{"reason"}),
		AffectedRows:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "alert_etl", Name: "affected_rows_total"}),
		RunDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "alert_etl", Name: "run_duration_seconds"}),
		FetchDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "alert_etl", Name: "geometry_fetch_duration_seconds"}),
		CacheLookups:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "alert_etl", Name: "dashboard_cache_total"}, []string{"result"}),
		ActiveAlerts:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "alert_etl", Name: "active_alerts"}),
		LastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "alert_etl", Name: "last_successful_run_timestamp_seconds"}),
	}
}
