package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
)

const districtsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"ubigeo": "180101", "nombdist": "MOQUEGUA"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.0, -17.3], [-70.8, -17.3], [-70.8, -17.1], [-71.0, -17.1], [-71.0, -17.3]]]}},
    {"type": "Feature",
     "properties": {"ubigeo": "180301", "nombdist": "ILO"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.5, -17.7], [-71.2, -17.7], [-71.2, -17.5], [-71.5, -17.5], [-71.5, -17.7]]]}},
    {"type": "Feature",
     "properties": {"ubigeo": "040101", "nombdist": "AREQUIPA"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.6, -16.5], [-71.4, -16.5], [-71.4, -16.3], [-71.6, -16.3], [-71.6, -16.5]]]}}
  ]
}`

const provincesJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"ccdd": "18", "ccpp": "01", "nombprov": "MARISCAL NIETO"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.2, -17.5], [-70.6, -17.5], [-70.6, -16.9], [-71.2, -16.9], [-71.2, -17.5]]]}},
    {"type": "Feature",
     "properties": {"ccdd": "18", "ccpp": "03", "nombprov": "ILO"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.7, -17.9], [-71.1, -17.9], [-71.1, -17.3], [-71.7, -17.3], [-71.7, -17.9]]]}},
    {"type": "Feature",
     "properties": {"ccdd": "04", "ccpp": "01", "nombprov": "AREQUIPA"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.8, -16.6], [-71.2, -16.6], [-71.2, -16.0], [-71.8, -16.0], [-71.8, -16.6]]]}}
  ]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_FiltersToPrefixAndResolvesProvinces(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, districtsFile, districtsJSON)
	writeFixture(t, dir, provincesFile, provincesJSON)

	reg, err := Load(context.Background(), Options{Dir: dir, Prefix: "18"}, testLogger())
	require.NoError(t, err)

	districts := reg.Districts()
	require.Len(t, districts, 2)
	assert.Equal(t, "180101", districts[0].Ubigeo)
	assert.Equal(t, "MOQUEGUA", districts[0].Name)
	assert.Equal(t, "MARISCAL NIETO", districts[0].Province)
	assert.Equal(t, "180301", districts[1].Ubigeo)
	assert.Equal(t, "ILO", districts[1].Name)
	assert.Equal(t, "ILO", districts[1].Province)

	provinces := reg.Provinces()
	require.Len(t, provinces, 2)
	assert.Equal(t, domain.Province{Code: "1801", Name: "MARISCAL NIETO"}, provinces[0])
	assert.Equal(t, domain.Province{Code: "1803", Name: "ILO"}, provinces[1])

	probe, err := geom.UnmarshalWKT("POLYGON((-70.95 -17.25, -70.85 -17.25, -70.85 -17.15, -70.95 -17.15, -70.95 -17.25))")
	require.NoError(t, err)
	assert.True(t, geo.Intersects(districts[0].Boundary, probe))
	assert.False(t, geo.Intersects(districts[1].Boundary, probe))
}

func TestLoad_DistrictWithoutProvinceKeepsEmptyName(t *testing.T) {
	districts := `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"ubigeo": "180201", "nombdist": "OMATE"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.1, -16.8], [-70.9, -16.8], [-70.9, -16.6], [-71.1, -16.6], [-71.1, -16.8]]]}}
  ]
}`

	dir := t.TempDir()
	writeFixture(t, dir, districtsFile, districts)
	writeFixture(t, dir, provincesFile, provincesJSON)

	reg, err := Load(context.Background(), Options{Dir: dir, Prefix: "18"}, testLogger())
	require.NoError(t, err)

	require.Len(t, reg.Districts(), 1)
	assert.Equal(t, "OMATE", reg.Districts()[0].Name)
	assert.Empty(t, reg.Districts()[0].Province)
}

func TestLoad_MissingFileWithoutURL(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(context.Background(), Options{Dir: dir, Prefix: "18"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), districtsFile)
}

func TestLoad_NoDistrictsForPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, districtsFile, districtsJSON)
	writeFixture(t, dir, provincesFile, provincesJSON)

	_, err := Load(context.Background(), Options{Dir: dir, Prefix: "99"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no districts")
}

func TestLoad_MalformedGeoJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, districtsFile, "not geojson at all")
	writeFixture(t, dir, provincesFile, provincesJSON)

	_, err := Load(context.Background(), Options{Dir: dir, Prefix: "18"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "districts")
}

func TestLoad_MissingRequiredProperty(t *testing.T) {
	districts := `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"nombdist": "MOQUEGUA"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.0, -17.3], [-70.8, -17.3], [-70.8, -17.1], [-71.0, -17.1], [-71.0, -17.3]]]}}
  ]
}`

	dir := t.TempDir()
	writeFixture(t, dir, districtsFile, districts)
	writeFixture(t, dir, provincesFile, provincesJSON)

	_, err := Load(context.Background(), Options{Dir: dir, Prefix: "18"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing ubigeo")
}

func TestLoad_DownloadsMissingFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + districtsFile:
			io.WriteString(w, districtsJSON)
		case "/" + provincesFile:
			io.WriteString(w, provincesJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	reg, err := Load(context.Background(), Options{Dir: dir, Prefix: "18", DownloadURL: srv.URL}, testLogger())
	require.NoError(t, err)
	assert.Len(t, reg.Districts(), 2)

	// The fetched files stay on disk for the next run.
	assert.FileExists(t, filepath.Join(dir, districtsFile))
	assert.FileExists(t, filepath.Join(dir, provincesFile))
}

func TestLoad_DownloadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+districtsFile && calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/" + districtsFile:
			io.WriteString(w, districtsJSON)
		case "/" + provincesFile:
			io.WriteString(w, provincesJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	reg, err := Load(context.Background(), Options{Dir: dir, Prefix: "18", DownloadURL: srv.URL}, testLogger())
	require.NoError(t, err)
	assert.Len(t, reg.Districts(), 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoad_DownloadDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := Load(context.Background(), Options{Dir: dir, Prefix: "18", DownloadURL: srv.URL}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}
