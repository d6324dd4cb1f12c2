// Package render draws per-alert district maps. Each map shows the
// whole region with affected districts filled in the alert's severity
// color, written as mapa_aviso_{nro}.png under the maps directory.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/peterstace/simplefeatures/geom"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
)

const (
	mapWidth  = 1000
	mapHeight = 1200

	marginTop    = 120.0
	marginBottom = 90.0
	marginSide   = 30.0
)

// levelColors maps bulletin severity levels to fill colors. Levels
// outside the map fall back to defaultColor.
var levelColors = map[string]string{
	"ROJO":     "#d62728",
	"NARANJA":  "#ff7f0e",
	"AMARILLO": "#ffd700",
	"VERDE":    "#2ca02c",
}

const (
	defaultColor    = "#1f77b4"
	unaffectedColor = "#d9d9d9"
)

// Renderer draws alert maps over a fixed district set. The geographic
// extent is computed once at construction; every map shares the same
// framing so a run's output is visually comparable.
type Renderer struct {
	districts []domain.District
	dir       string
	region    string

	min, max geom.XY

	titleFace font.Face
	labelFace font.Face
	textFace  font.Face
}

// NewRenderer creates a Renderer writing into dir. The directory is
// created if missing.
func NewRenderer(districts []domain.District, dir, region string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create maps dir: %w", err)
	}

	var min, max geom.XY
	found := false
	for _, d := range districts {
		dmin, dmax, ok := geo.Bounds(d.Boundary)
		if !ok {
			continue
		}
		if !found {
			min, max = dmin, dmax
			found = true
			continue
		}
		if dmin.X < min.X {
			min.X = dmin.X
		}
		if dmin.Y < min.Y {
			min.Y = dmin.Y
		}
		if dmax.X > max.X {
			max.X = dmax.X
		}
		if dmax.Y > max.Y {
			max.Y = dmax.Y
		}
	}
	if !found {
		return nil, fmt.Errorf("render: no drawable district boundaries")
	}

	titleFace, err := newFace(gobold.TTF, 26)
	if err != nil {
		return nil, err
	}
	labelFace, err := newFace(gobold.TTF, 12)
	if err != nil {
		return nil, err
	}
	textFace, err := newFace(goregular.TTF, 14)
	if err != nil {
		return nil, err
	}

	return &Renderer{
		districts: districts,
		dir:       dir,
		region:    region,
		min:       min,
		max:       max,
		titleFace: titleFace,
		labelFace: labelFace,
		textFace:  textFace,
	}, nil
}

func newFace(ttf []byte, points float64) (font.Face, error) {
	f, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

// RenderAlert draws the map for one alert and returns the written file
// path. rows are the alert's affected-district records; their shared
// label, level and validity window feed the headings.
func (r *Renderer) RenderAlert(number string, rows []domain.AffectedDistrict) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("render alert %s: no affected rows", number)
	}

	affected := make(map[string]bool, len(rows))
	for _, row := range rows {
		affected[row.District] = true
	}

	level := strings.ToUpper(strings.TrimSpace(rows[0].Level))
	fill, ok := levelColors[level]
	if !ok {
		fill = defaultColor
	}

	proj := fitProjection(r.min, r.max)

	dc := gg.NewContext(mapWidth, mapHeight)
	dc.SetFillRule(gg.FillRuleEvenOdd)
	dc.SetHexColor("#ffffff")
	dc.Clear()

	// District polygons, affected ones in the severity color.
	for _, d := range r.districts {
		if affected[d.Name] {
			dc.SetHexColor(fill)
		} else {
			dc.SetHexColor(unaffectedColor)
		}
		pathGeometry(dc, d.Boundary, proj)
		dc.FillPreserve()
		dc.SetHexColor("#ffffff")
		dc.SetLineWidth(1.5)
		dc.Stroke()
	}

	// Name labels at polygon centroids, white on colored fills.
	dc.SetFontFace(r.labelFace)
	for _, d := range r.districts {
		c, ok := geo.Centroid(d.Boundary)
		if !ok {
			continue
		}
		if affected[d.Name] {
			dc.SetHexColor("#ffffff")
		} else {
			dc.SetHexColor("#000000")
		}
		x, y := proj.point(c)
		dc.DrawStringAnchored(d.Name, x, y, 0.5, 0.5)
	}

	r.drawHeadings(dc, number, level, rows[0])
	r.drawFooter(dc, len(affected))
	r.drawLegend(dc, fill)

	path := filepath.Join(r.dir, fmt.Sprintf("mapa_aviso_%s.png", number))
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("render alert %s: %w", number, err)
	}
	return path, nil
}

func (r *Renderer) drawHeadings(dc *gg.Context, number, level string, row domain.AffectedDistrict) {
	dc.SetHexColor("#000000")
	dc.SetFontFace(r.titleFace)
	dc.DrawStringAnchored(fmt.Sprintf("AVISO %s - %s", number, level), mapWidth/2, 40, 0.5, 0.5)

	dc.SetFontFace(r.textFace)
	dc.DrawStringAnchored(row.Label, mapWidth/2, 76, 0.5, 0.5)
	validity := fmt.Sprintf("Vigencia: %s al %s",
		row.Start.Format("02/01/2006"), row.End.Format("02/01/2006"))
	dc.DrawStringAnchored(validity, mapWidth/2, 98, 0.5, 0.5)
}

func (r *Renderer) drawFooter(dc *gg.Context, affectedCount int) {
	dc.SetRGB(0.45, 0.45, 0.45)
	dc.SetFontFace(r.textFace)
	counts := fmt.Sprintf("Distritos afectados: %d de %d", affectedCount, len(r.districts))
	dc.DrawStringAnchored(counts, mapWidth/2, mapHeight-52, 0.5, 0.5)
	source := fmt.Sprintf("Región: %s | Fuente: SENAMHI", r.region)
	dc.DrawStringAnchored(source, mapWidth/2, mapHeight-30, 0.5, 0.5)
}

func (r *Renderer) drawLegend(dc *gg.Context, fill string) {
	const (
		swatch  = 18.0
		entryH  = 28.0
		legendW = 170.0
	)
	x := mapWidth - marginSide - legendW
	y := mapHeight - marginBottom - 2*entryH

	dc.SetFontFace(r.textFace)
	entries := []struct {
		color string
		label string
	}{
		{fill, "Afectado"},
		{unaffectedColor, "No afectado"},
	}
	for i, e := range entries {
		ey := y + float64(i)*entryH
		dc.SetHexColor(e.color)
		dc.DrawRectangle(x, ey, swatch, swatch)
		dc.Fill()
		dc.SetHexColor("#000000")
		dc.DrawStringAnchored(e.label, x+swatch+10, ey+swatch/2, 0, 0.5)
	}
}

// projection maps lon/lat to image coordinates: uniform scale, centered
// in the drawable area, y axis flipped so north is up.
type projection struct {
	min, max geom.XY
	scale    float64
	offX     float64
	offY     float64
}

func fitProjection(min, max geom.XY) projection {
	areaW := mapWidth - 2*marginSide
	areaH := mapHeight - marginTop - marginBottom

	dx := max.X - min.X
	dy := max.Y - min.Y
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}

	scale := areaW / dx
	if s := areaH / dy; s < scale {
		scale = s
	}

	return projection{
		min:   min,
		max:   max,
		scale: scale,
		offX:  marginSide + (areaW-dx*scale)/2,
		offY:  marginTop + (areaH-dy*scale)/2,
	}
}

func (p projection) point(xy geom.XY) (float64, float64) {
	x := p.offX + (xy.X-p.min.X)*p.scale
	y := p.offY + (p.max.Y-xy.Y)*p.scale
	return x, y
}

func pathGeometry(dc *gg.Context, g geom.Geometry, p projection) {
	switch g.Type() {
	case geom.TypePolygon:
		pathPolygon(dc, g.MustAsPolygon(), p)
	case geom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		for i := 0; i < mp.NumPolygons(); i++ {
			pathPolygon(dc, mp.PolygonN(i), p)
		}
	}
}

func pathPolygon(dc *gg.Context, poly geom.Polygon, p projection) {
	pathRing(dc, poly.ExteriorRing(), p)
	for i := 0; i < poly.NumInteriorRings(); i++ {
		pathRing(dc, poly.InteriorRingN(i), p)
	}
}

func pathRing(dc *gg.Context, ls geom.LineString, p projection) {
	seq := ls.Coordinates()
	for i := 0; i < seq.Length(); i++ {
		x, y := p.point(seq.GetXY(i))
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
}
