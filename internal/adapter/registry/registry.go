// Package registry loads the administrative reference data the matcher
// joins against: district boundaries and their parent provinces.
//
// Both datasets are GeoJSON feature collections on disk. Districts
// carry "ubigeo" and "nombdist" properties, provinces "ccdd", "ccpp"
// and "nombprov", following the attribute names of the INEI cartography
// they are derived from. When a file is missing and a download URL is
// configured, the loader fetches it once at startup, retrying transient
// failures with exponential backoff.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
)

const (
	districtsFile = "districts.geojson"
	provincesFile = "provinces.geojson"
)

const (
	downloadRetries = 3
	defaultTimeout  = 30 * time.Second
)

// Options configure a registry load.
type Options struct {
	// Dir holds the GeoJSON reference files.
	Dir string
	// Prefix keeps only districts and provinces whose ubigeo starts
	// with it, e.g. "18" for Moquegua.
	Prefix string
	// DownloadURL, when set, is the base URL missing files are fetched
	// from as {DownloadURL}/{file}. When empty, a missing file is an
	// error.
	DownloadURL string
	// Timeout bounds each download request. Zero means 30s.
	Timeout time.Duration
}

// Registry is the loaded, prefix-filtered reference data. It is
// immutable after Load and safe for concurrent readers.
type Registry struct {
	districts []domain.District
	provinces []domain.Province
}

// Districts returns the districts in file order. The order is stable
// across runs and determines match output order.
func (r *Registry) Districts() []domain.District { return r.districts }

// Provinces returns the provinces under the configured prefix.
func (r *Registry) Provinces() []domain.Province { return r.provinces }

// Load reads both reference files, downloading missing ones first when
// a URL is configured, filters them to the prefix and resolves each
// district's province from the leading 4 digits of its ubigeo. A
// district without a matching province is kept with an empty province
// name and logged.
func Load(ctx context.Context, opts Options, logger *slog.Logger) (*Registry, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	districtsPath, err := ensureFile(ctx, opts, districtsFile, client, logger)
	if err != nil {
		return nil, err
	}
	provincesPath, err := ensureFile(ctx, opts, provincesFile, client, logger)
	if err != nil {
		return nil, err
	}

	districts, err := loadDistricts(districtsPath, opts.Prefix)
	if err != nil {
		return nil, err
	}
	if len(districts) == 0 {
		return nil, fmt.Errorf("no districts matching prefix %q in %s", opts.Prefix, districtsPath)
	}

	provinces, err := loadProvinces(provincesPath, opts.Prefix)
	if err != nil {
		return nil, err
	}
	if len(provinces) == 0 {
		return nil, fmt.Errorf("no provinces matching prefix %q in %s", opts.Prefix, provincesPath)
	}

	byCode := make(map[string]string, len(provinces))
	for _, p := range provinces {
		byCode[p.Code] = p.Name
	}
	for i := range districts {
		d := &districts[i]
		if len(d.Ubigeo) < 4 {
			logger.Warn("district ubigeo too short to resolve province",
				"ubigeo", d.Ubigeo, "district", d.Name)
			continue
		}
		name, ok := byCode[d.Ubigeo[:4]]
		if !ok {
			logger.Warn("no province record for district",
				"ubigeo", d.Ubigeo, "district", d.Name)
			continue
		}
		d.Province = name
	}

	logger.Info("reference data loaded",
		"districts", len(districts),
		"provinces", len(provinces),
		"prefix", opts.Prefix)

	return &Registry{districts: districts, provinces: provinces}, nil
}

func loadDistricts(path, prefix string) ([]domain.District, error) {
	fc, err := readCollection(path)
	if err != nil {
		return nil, fmt.Errorf("districts: %w", err)
	}
	districts := make([]domain.District, 0, len(fc))
	for i, f := range fc {
		ubigeo := stringProp(f.Properties, "ubigeo")
		name := stringProp(f.Properties, "nombdist")
		if ubigeo == "" || name == "" {
			return nil, fmt.Errorf("districts: feature %d missing ubigeo or nombdist", i)
		}
		if !strings.HasPrefix(ubigeo, prefix) {
			continue
		}
		boundary, err := geo.Repair(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("districts: %s: %w", name, err)
		}
		districts = append(districts, domain.District{
			Ubigeo:   ubigeo,
			Name:     name,
			Boundary: boundary,
		})
	}
	return districts, nil
}

func loadProvinces(path, prefix string) ([]domain.Province, error) {
	fc, err := readCollection(path)
	if err != nil {
		return nil, fmt.Errorf("provinces: %w", err)
	}
	provinces := make([]domain.Province, 0, len(fc))
	for i, f := range fc {
		code := stringProp(f.Properties, "ccdd") + stringProp(f.Properties, "ccpp")
		name := stringProp(f.Properties, "nombprov")
		if code == "" || name == "" {
			return nil, fmt.Errorf("provinces: feature %d missing ccdd/ccpp or nombprov", i)
		}
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		provinces = append(provinces, domain.Province{Code: code, Name: name})
	}
	return provinces, nil
}

func readCollection(path string) (geom.GeoJSONFeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc geom.GeoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return fc, nil
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return strings.TrimSpace(s)
}

func ensureFile(ctx context.Context, opts Options, name string, client *http.Client, logger *slog.Logger) (string, error) {
	path := filepath.Join(opts.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}
	if opts.DownloadURL == "" {
		return "", fmt.Errorf("reference file %s not found in %s and no download URL configured", name, opts.Dir)
	}
	url := strings.TrimSuffix(opts.DownloadURL, "/") + "/" + name
	logger.Info("downloading reference file", "url", url, "path", path)
	if err := download(ctx, client, url, path); err != nil {
		return "", fmt.Errorf("downloading %s: %w", name, err)
	}
	return path, nil
}

// download fetches url into path, writing a temp file in the target
// directory and renaming it over the destination so a failed fetch
// never leaves a partial file behind. Transient failures are retried
// with exponential backoff; 4xx responses are not.
func download(ctx context.Context, client *http.Client, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, body, 0o644); err != nil {
			return backoff.Permanent(err)
		}
		return os.Rename(tmp, path)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), downloadRetries), ctx)
	return backoff.Retry(op, policy)
}
