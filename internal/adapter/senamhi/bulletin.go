// Package senamhi adapts SENAMHI's public interfaces: the HTML bulletin
// page listing current alerts, and the IDESEP WFS endpoint serving each
// alert's hazard area as a zipped shapefile.
package senamhi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
)

// BulletinClient implements domain.BulletinSource by scraping the
// published alerts table. An unreachable page, a non-200 response, or a
// page without the table all yield an empty list with a warning; the
// batch sees zero alerts, not a failure.
type BulletinClient struct {
	pageURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBulletinClient creates a bulletin page scraper.
func NewBulletinClient(pageURL string, timeout time.Duration, logger *slog.Logger) *BulletinClient {
	return &BulletinClient{
		pageURL: pageURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchAlerts returns the raw rows of the alerts table in page order.
func (c *BulletinClient) FetchAlerts(ctx context.Context) ([]domain.RawAlert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Warn("bulletin page unreachable", "url", c.pageURL, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("bulletin page returned non-OK status", "url", c.pageURL, "status", resp.StatusCode)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		c.logger.Warn("bulletin page not parseable", "url", c.pageURL, "error", err)
		return nil, nil
	}

	alerts := parseAlertsTable(doc)
	if len(alerts) == 0 {
		c.logger.Warn("bulletin page has no alert rows", "url", c.pageURL)
	}
	return alerts, nil
}

// parseAlertsTable reads the first table on the page. Data rows have 7
// cells: aviso, nro, emisión, inicio, fin, duración, nivel. The header
// row uses <th> cells, so the cell-count guard skips it; the duración
// column is dropped.
func parseAlertsTable(doc *goquery.Document) []domain.RawAlert {
	var alerts []domain.RawAlert
	doc.Find("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 7 {
			return
		}
		text := func(i int) string {
			return strings.TrimSpace(cells.Eq(i).Text())
		}
		alerts = append(alerts, domain.RawAlert{
			Label:  text(0),
			Number: text(1),
			Issued: text(2),
			Start:  text(3),
			End:    text(4),
			Level:  text(6),
		})
	})
	return alerts
}
