// Package dashboard serves the JSON API over the alert history: active
// alerts, history windows, per-district lookups, headline numbers, PDF
// reports and the rendered maps. Reads go through a TTL cache with
// explicit invalidation, either in-process after a batch run or via
// POST /api/v1/refresh.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/couchcryptid/alert-district-etl/internal/observability"
	"github.com/couchcryptid/alert-district-etl/internal/report"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

// ErrAlertNotFound marks lookups for bulletin numbers with no history
// row; the error handler maps it to a 404.
var ErrAlertNotFound = errors.New("alert not found")

// HistoryReader is the slice of the history store the dashboard reads.
type HistoryReader interface {
	ActiveAlerts(ctx context.Context) ([]store.HistoryRecord, error)
	History(ctx context.Context, days int) ([]store.HistoryRecord, error)
	DistrictHistory(ctx context.Context, district string) ([]store.HistoryRecord, error)
	AlertByNumber(ctx context.Context, number string) (*store.HistoryRecord, error)
	DistrictsFor(ctx context.Context, alertID int64) ([]store.DistrictRef, error)
	Summarize(ctx context.Context) (*store.Summary, error)
}

// ReportBuilder produces the PDF documents served under /reports.
type ReportBuilder interface {
	Summary(summary *store.Summary, sections []report.AlertSection, now time.Time) ([]byte, string, error)
	Alert(section report.AlertSection, now time.Time) ([]byte, string, error)
}

// Options configures the dashboard server.
type Options struct {
	Addr     string
	MapsDir  string
	CacheTTL time.Duration
}

// Server is the dashboard HTTP API.
type Server struct {
	router  *echo.Echo
	history HistoryReader
	reports ReportBuilder
	cache   *responseCache
	opts    Options
	logger  *slog.Logger
}

// NewServer wires the routes. A nil reports builder disables the
// /reports endpoints with a 404.
func NewServer(opts Options, history HistoryReader, reports ReportBuilder, logger *slog.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		router:  echo.New(),
		history: history,
		reports: reports,
		cache:   newResponseCache(opts.CacheTTL, clockwork.NewRealClock(), metrics),
		opts:    opts,
		logger:  logger,
	}

	s.router.HideBanner = true
	s.router.HidePort = true
	s.router.HTTPErrorHandler = s.errorHandler
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())

	api := s.router.Group("/api/v1")
	api.GET("/alerts/active", s.activeAlerts)
	api.GET("/alerts/history", s.alertHistory)
	api.GET("/districts/:name/history", s.districtHistory)
	api.GET("/summary", s.summary)
	api.POST("/refresh", s.refresh)

	if reports != nil {
		api.GET("/reports/summary.pdf", s.summaryReport)
		api.GET("/reports/alerts/:file", s.alertReport)
	}
	if opts.MapsDir != "" {
		s.router.Static("/maps", opts.MapsDir)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard starting", "addr", s.opts.Addr)
	return s.router.Start(s.opts.Addr)
}

// Shutdown gracefully drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// InvalidateCache drops all cached responses, for callers that know the
// history just changed.
func (s *Server) InvalidateCache() {
	s.cache.invalidate()
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	switch {
	case errors.Is(err, ErrAlertNotFound):
		code = http.StatusNotFound
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err)
	}
	if werr := c.JSON(code, ErrorResponse{Message: msg, Code: code}); werr != nil {
		s.logger.Error("error response write failed", "error", werr)
	}
}
