package render_test

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/render"
)

func square(t *testing.T, minX, maxX float64) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(fmt.Sprintf(
		"POLYGON((%[1]f 0, %[2]f 0, %[2]f 1, %[1]f 1, %[1]f 0))", minX, maxX))
	require.NoError(t, err)
	return g
}

func testDistricts(t *testing.T) []domain.District {
	t.Helper()
	return []domain.District{
		{Ubigeo: "180101", Name: "MOQUEGUA", Province: "MARISCAL NIETO", Boundary: square(t, 0, 1)},
		{Ubigeo: "180201", Name: "OMATE", Province: "GENERAL SANCHEZ CERRO", Boundary: square(t, 1.2, 2.2)},
		{Ubigeo: "180301", Name: "ILO", Province: "ILO", Boundary: square(t, 2.4, 3.4)},
	}
}

func row(number, level, district string) domain.AffectedDistrict {
	return domain.AffectedDistrict{
		Label:      "Precipitación intensa en la sierra",
		Number:     number,
		Level:      level,
		Start:      time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC),
		Department: "MOQUEGUA",
		Province:   "MARISCAL NIETO",
		District:   district,
	}
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

// countColor counts exactly-matching opaque pixels. Fill interiors keep
// the exact color; only anti-aliased edges blend.
func countColor(img image.Image, r, g, b uint8) int {
	bounds := img.Bounds()
	n := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			if uint8(pr>>8) == r && uint8(pg>>8) == g && uint8(pb>>8) == b {
				n++
			}
		}
	}
	return n
}

func TestRenderAlert_WritesDecodableMap(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "maps")
	r, err := render.NewRenderer(testDistricts(t), dir, "Moquegua")
	require.NoError(t, err)

	path, err := r.RenderAlert("123", []domain.AffectedDistrict{
		row("123", "ROJO", "MOQUEGUA"),
		row("123", "ROJO", "ILO"),
	})
	require.NoError(t, err)
	assert.Equal(t, "mapa_aviso_123.png", filepath.Base(path))
	assert.Equal(t, dir, filepath.Dir(path))

	img := decodePNG(t, path)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 1200, img.Bounds().Dy())

	// Two districts carry the ROJO fill, the untouched one stays gray.
	assert.Positive(t, countColor(img, 0xd6, 0x27, 0x28), "expected ROJO fill pixels")
	assert.Positive(t, countColor(img, 0xd9, 0xd9, 0xd9), "expected unaffected gray pixels")
}

func TestRenderAlert_UnknownLevelUsesDefaultColor(t *testing.T) {
	r, err := render.NewRenderer(testDistricts(t), t.TempDir(), "Moquegua")
	require.NoError(t, err)

	path, err := r.RenderAlert("321", []domain.AffectedDistrict{
		row("321", "MORADO", "OMATE"),
	})
	require.NoError(t, err)

	img := decodePNG(t, path)
	assert.Positive(t, countColor(img, 0x1f, 0x77, 0xb4), "expected fallback fill pixels")
	assert.Zero(t, countColor(img, 0xd6, 0x27, 0x28), "no ROJO fill expected")
}

func TestRenderAlert_OverwritesPreviousMap(t *testing.T) {
	dir := t.TempDir()
	r, err := render.NewRenderer(testDistricts(t), dir, "Moquegua")
	require.NoError(t, err)

	_, err = r.RenderAlert("777", []domain.AffectedDistrict{row("777", "VERDE", "ILO")})
	require.NoError(t, err)
	path, err := r.RenderAlert("777", []domain.AffectedDistrict{row("777", "ROJO", "ILO")})
	require.NoError(t, err)

	img := decodePNG(t, path)
	assert.Positive(t, countColor(img, 0xd6, 0x27, 0x28))
	assert.Zero(t, countColor(img, 0x2c, 0xa0, 0x2c), "old VERDE fill must be gone")
}

func TestRenderAlert_NoRowsIsAnError(t *testing.T) {
	r, err := render.NewRenderer(testDistricts(t), t.TempDir(), "Moquegua")
	require.NoError(t, err)

	_, err = r.RenderAlert("123", nil)
	assert.Error(t, err)
}

func TestNewRenderer_RequiresDrawableBoundaries(t *testing.T) {
	_, err := render.NewRenderer([]domain.District{{Ubigeo: "180101", Name: "MOQUEGUA"}}, t.TempDir(), "Moquegua")
	assert.Error(t, err)
}
