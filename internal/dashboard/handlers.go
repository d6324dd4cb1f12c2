package dashboard

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/report"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

// AlertResponse is one history row with its affected districts.
type AlertResponse struct {
	store.HistoryRecord
	Districts []store.DistrictRef `json:"districts"`
}

// HistoryResponse is a windowed slice of the alert history.
type HistoryResponse struct {
	Days   int                   `json:"days"`
	Alerts []store.HistoryRecord `json:"alerts"`
}

// DistrictHistoryResponse lists every alert that touched one district.
type DistrictHistoryResponse struct {
	District string                `json:"district"`
	Alerts   []store.HistoryRecord `json:"alerts"`
}

// ErrorResponse is the JSON problem body for failed requests.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var historyWindows = map[int]bool{7: true, 15: true, 30: true, 60: true, 90: true}

func (s *Server) activeAlerts(c echo.Context) error {
	const key = "active"
	if v, ok := s.cache.get(key); ok {
		return c.JSON(http.StatusOK, v)
	}

	ctx := c.Request().Context()
	records, err := s.history.ActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}
	resp := make([]AlertResponse, 0, len(records))
	for _, rec := range records {
		districts, err := s.history.DistrictsFor(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("districts for alert %s: %w", rec.Number, err)
		}
		resp = append(resp, AlertResponse{HistoryRecord: rec, Districts: districts})
	}

	s.cache.put(key, resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) alertHistory(c echo.Context) error {
	days := 30
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !historyWindows[n] {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be one of 7, 15, 30, 60, 90")
		}
		days = n
	}

	key := fmt.Sprintf("history:%d", days)
	if v, ok := s.cache.get(key); ok {
		return c.JSON(http.StatusOK, v)
	}

	records, err := s.history.History(c.Request().Context(), days)
	if err != nil {
		return fmt.Errorf("alert history: %w", err)
	}
	resp := HistoryResponse{Days: days, Alerts: records}

	s.cache.put(key, resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) districtHistory(c echo.Context) error {
	raw := c.Param("name")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "district name is required")
	}

	key := "district:" + name
	if v, ok := s.cache.get(key); ok {
		return c.JSON(http.StatusOK, v)
	}

	records, err := s.history.DistrictHistory(c.Request().Context(), name)
	if err != nil {
		return fmt.Errorf("history for district %s: %w", name, err)
	}
	resp := DistrictHistoryResponse{District: name, Alerts: records}

	s.cache.put(key, resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) summary(c echo.Context) error {
	const key = "summary"
	if v, ok := s.cache.get(key); ok {
		return c.JSON(http.StatusOK, v)
	}

	sum, err := s.history.Summarize(c.Request().Context())
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}

	s.cache.put(key, sum)
	return c.JSON(http.StatusOK, sum)
}

// refresh drops the response cache so the next read hits the store.
func (s *Server) refresh(c echo.Context) error {
	s.cache.invalidate()
	return c.JSON(http.StatusOK, map[string]string{"status": "cache invalidated"})
}

func (s *Server) summaryReport(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := s.history.Summarize(ctx)
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}
	records, err := s.history.ActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}

	sections := make([]report.AlertSection, 0, len(records))
	for _, rec := range records {
		districts, err := s.history.DistrictsFor(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("districts for alert %s: %w", rec.Number, err)
		}
		sections = append(sections, report.AlertSection{Record: rec, Districts: districts})
	}

	raw, name, err := s.reports.Summary(sum, sections, domain.Now())
	if err != nil {
		return fmt.Errorf("summary report: %w", err)
	}
	return servePDF(c, raw, name)
}

func (s *Server) alertReport(c echo.Context) error {
	number := strings.TrimSuffix(c.Param("file"), ".pdf")
	if number == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "alert number is required")
	}

	ctx := c.Request().Context()
	rec, err := s.history.AlertByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("alert %s: %w", number, err)
	}
	if rec == nil {
		return fmt.Errorf("alert %s: %w", number, ErrAlertNotFound)
	}
	districts, err := s.history.DistrictsFor(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("districts for alert %s: %w", number, err)
	}

	raw, name, err := s.reports.Alert(report.AlertSection{Record: *rec, Districts: districts}, domain.Now())
	if err != nil {
		return fmt.Errorf("alert report: %w", err)
	}
	return servePDF(c, raw, name)
}

func servePDF(c echo.Context, raw []byte, name string) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "application/pdf", raw)
}
