package senamhi

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
)

var (
	// ErrNotZip means the WFS endpoint answered with something other
	// than a ZIP archive, typically an XML error document.
	ErrNotZip = errors.New("response is not a ZIP archive")

	// ErrNoShapefile means the archive held no .shp member.
	ErrNoShapefile = errors.New("archive contains no shapefile")
)

// WFSClient implements domain.GeometryFetcher against the IDESEP
// GeoServer. Alert geometries are served as SHAPE-ZIP downloads keyed by
// {number}_1_{year}. Every error is local to one alert; the caller skips
// the alert and continues.
type WFSClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWFSClient creates a geometry downloader for the given OWS base URL.
func NewWFSClient(baseURL string, timeout time.Duration, logger *slog.Logger) *WFSClient {
	return &WFSClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchGeometry downloads and decodes one alert's hazard polygons. Each
// polygon is repaired before it is returned; an unrepairable polygon
// fails the whole download. Features keep shapefile record order, each
// tagged with its NIVEL attribute.
func (c *WFSClient) FetchGeometry(ctx context.Context, number, year string) ([]domain.GeometryFeature, error) {
	u := fmt.Sprintf(
		"%s?service=WFS&version=1.0.0&request=GetFeature&typeName=g_aviso&outputFormat=SHAPE-ZIP&maxFeatures=50&viewparams=qry:%s_1_%s",
		c.baseURL, number, year,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("alert %s: create request: %w", number, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alert %s: geometry request: %w", number, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alert %s: geometry service status %d", number, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("alert %s: read response: %w", number, err)
	}
	if len(body) < 2 || body[0] != 'P' || body[1] != 'K' {
		return nil, fmt.Errorf("alert %s: %w", number, ErrNotZip)
	}

	features, err := decodeShapeZip(body)
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", number, err)
	}
	c.logger.Debug("geometry downloaded", "alert", number, "year", year, "features", len(features))
	return features, nil
}

// decodeShapeZip extracts the archive to a scratch directory and reads
// the shapefile inside. go-shp resolves the companion .dbf by file name,
// so members are written to disk rather than decoded in memory.
func decodeShapeZip(data []byte) ([]domain.GeometryFeature, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	dir, err := os.MkdirTemp("", "senamhi-shape-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	shpPath := ""
	for _, member := range zr.File {
		name := filepath.Base(member.Name)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := extractMember(member, dst); err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		if strings.HasSuffix(strings.ToLower(name), ".shp") {
			shpPath = dst
		}
	}
	if shpPath == "" {
		return nil, ErrNoShapefile
	}

	return readShapefile(shpPath)
}

func extractMember(member *zip.File, dst string) error {
	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, rc)
	return err
}

func readShapefile(path string) ([]domain.GeometryFeature, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	levelField := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(f.String(), "nivel") {
			levelField = i
			break
		}
	}

	var features []domain.GeometryFeature
	for r.Next() {
		n, shape := r.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		g, err := geo.PolygonsFromRings(splitParts(poly.Parts, poly.Points))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		g, err = geo.Repair(g)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}

		level := ""
		if levelField >= 0 {
			level = strings.TrimSpace(r.ReadAttribute(n, levelField))
		}
		features = append(features, domain.GeometryFeature{Level: level, Polygon: g})
	}
	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return features, nil
}

// splitParts slices a shapefile point array into its rings. A record
// without part offsets is a single ring.
func splitParts(parts []int32, points []shp.Point) [][]geom.XY {
	toXY := func(pts []shp.Point) []geom.XY {
		ring := make([]geom.XY, len(pts))
		for i, p := range pts {
			ring[i] = geom.XY{X: p.X, Y: p.Y}
		}
		return ring
	}

	if len(parts) == 0 {
		return [][]geom.XY{toXY(points)}
	}
	out := make([][]geom.XY, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end {
			continue
		}
		out = append(out, toXY(points[start:end]))
	}
	return out
}
