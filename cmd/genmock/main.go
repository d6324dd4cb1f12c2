// Command genmock writes a self-consistent mock of the SENAMHI surfaces
// the pipeline consumes: the bulletin page, one SHAPE-ZIP archive per
// alert, and the reference GeoJSON for a synthetic district grid. It
// then runs the actual matching code over the generated data and writes
// the expected flat file, so fixtures and test assertions cannot drift
// from pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock -out testdata/mock
//
// A static file server over the output directory stands in for both
// SENAMHI endpoints: bulletin.html for the alerts page and
// shapes/{nro}_1_{year}.zip for the geometry downloads.
package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/jonboulle/clockwork"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

var baseDate = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

const (
	department   = "MOQUEGUA"
	fallbackYear = "2025"
)

// rect is an axis-aligned box; all mock geometry is built from rects so
// every intersection can be checked by eye against the district grid.
type rect struct {
	x, y, w, h float64
}

// ring walks the corners clockwise, the outer-ring winding shapefiles
// use.
func (r rect) ring() []shp.Point {
	return []shp.Point{
		{X: r.x, Y: r.y},
		{X: r.x, Y: r.y + r.h},
		{X: r.x + r.w, Y: r.y + r.h},
		{X: r.x + r.w, Y: r.y},
		{X: r.x, Y: r.y},
	}
}

func (r rect) geometry() (geom.Geometry, error) {
	pts := r.ring()
	ring := make([]geom.XY, len(pts))
	for i, p := range pts {
		ring[i] = geom.XY{X: p.X, Y: p.Y}
	}
	return geo.PolygonsFromRings([][]geom.XY{ring})
}

func (r rect) union(o rect) rect {
	x0 := min(r.x, o.x)
	y0 := min(r.y, o.y)
	x1 := max(r.x+r.w, o.x+o.w)
	y1 := max(r.y+r.h, o.y+o.h)
	return rect{x: x0, y: y0, w: x1 - x0, h: y1 - y0}
}

type hazard struct {
	level string
	area  rect
}

type alertDef struct {
	number      string
	label       string
	level       string
	startOffset int // days relative to baseDate
	endOffset   int
	hazards     []hazard
}

func (d alertDef) start() time.Time { return baseDate.AddDate(0, 0, d.startOffset) }
func (d alertDef) end() time.Time   { return baseDate.AddDate(0, 0, d.endOffset) }

func (d alertDef) rawAlert() domain.RawAlert {
	return domain.RawAlert{
		Label:  d.label,
		Number: d.number,
		Issued: d.start().Format("2006-01-02") + " 08:00:00",
		Start:  d.start().Format("2006-01-02") + " 00:00:00",
		End:    d.end().Format("2006-01-02") + " 23:59:00",
		Level:  d.level,
	}
}

// backgroundArea is the nationwide reference outline bundled with every
// geometry download. It overlaps every district, which is exactly why
// the pipeline must drop it before matching.
var backgroundArea = rect{x: -82, y: -19, w: 15, h: 15}

// The synthetic region is a grid of square district cells over the real
// Moquegua bounding box. Real ubigeos and names keep the fixture
// faithful to production reference data; square cells keep every
// hazard/district intersection obvious.
const (
	gridOriginX = -71.9
	gridOriginY = -17.8
	gridCell    = 0.4
	gridCols    = 5
)

var mockDistricts = []struct {
	ubigeo string
	name   string
}{
	{"180101", "MOQUEGUA"},
	{"180102", "CARUMAS"},
	{"180103", "CUCHUMBAYA"},
	{"180104", "SAMEGUA"},
	{"180105", "SAN CRISTOBAL"},
	{"180106", "TORATA"},
	{"180107", "SAN ANTONIO"},
	{"180201", "OMATE"},
	{"180202", "CHOJATA"},
	{"180203", "COALAQUE"},
	{"180204", "ICHUÑA"},
	{"180205", "LA CAPILLA"},
	{"180206", "LLOQUE"},
	{"180207", "MATALAQUE"},
	{"180208", "PUQUINA"},
	{"180209", "QUINISTAQUILLAS"},
	{"180210", "UBINAS"},
	{"180211", "YUNGA"},
	{"180301", "ILO"},
	{"180302", "EL ALGARROBAL"},
	{"180303", "PACOCHA"},
}

var mockProvinces = []struct {
	ccdd, ccpp string
	name       string
}{
	{"18", "01", "MARISCAL NIETO"},
	{"18", "02", "GENERAL SANCHEZ CERRO"},
	{"18", "03", "ILO"},
}

func districtCell(i int) rect {
	return rect{
		x: gridOriginX + gridCell*float64(i%gridCols),
		y: gridOriginY + gridCell*float64(i/gridCols),
		w: gridCell,
		h: gridCell,
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the mock data tree")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// Fix the clock so the active/expired split is reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(baseDate.Add(10 * time.Hour)))
	defer domain.SetClock(nil)

	defs := []alertDef{
		{
			number: "203", label: "Descenso de temperatura del aire en la sierra", level: "ROJO",
			startOffset: 0, endOffset: 3,
			hazards: []hazard{
				{level: "Nivel 4", area: rect{x: -71.85, y: -16.95, w: 0.7, h: 0.6}},
			},
		},
		{
			number: "202", label: "Viento fuerte en la costa", level: "AMARILLO",
			startOffset: -1, endOffset: 1,
			hazards: []hazard{
				{level: "Nivel 2", area: rect{x: -70.65, y: -16.55, w: 0.3, h: 0.3}},
			},
		},
		{
			number: "201", label: "Precipitación intensa en la sierra", level: "NARANJA",
			startOffset: 0, endOffset: 2,
			hazards: []hazard{
				{level: "Nivel 3", area: rect{x: -71.8, y: -17.7, w: 0.6, h: 0.4}},
				{level: "Nivel 2", area: rect{x: -71.8, y: -17.7, w: 1.0, h: 0.4}},
			},
		},
		{
			number: "199", label: "Friaje en la sierra sur", level: "AMARILLO",
			startOffset: -6, endOffset: -1,
			hazards: []hazard{
				{level: "Nivel 2", area: rect{x: -71.8, y: -16.1, w: 0.2, h: 0.2}},
			},
		},
	}

	if err := writeFile(filepath.Join(*out, "bulletin.html"), []byte(bulletinHTML(defs))); err != nil {
		return fmt.Errorf("writing bulletin page: %w", err)
	}
	log.Printf("bulletin page: %d alert rows", len(defs))

	for _, d := range defs {
		raw := d.rawAlert()
		name := fmt.Sprintf("%s_1_%s.zip", d.number, domain.AlertYear(raw.Issued, fallbackYear))
		if err := writeShapeZip(filepath.Join(*out, "shapes", name), d.hazards); err != nil {
			return fmt.Errorf("writing shapes for aviso %s: %w", d.number, err)
		}
		log.Printf("aviso %s: %d hazard features", d.number, len(d.hazards))
	}

	districts, districtFC, err := buildDistricts()
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(*out, "reference", "districts.geojson"), districtFC); err != nil {
		return fmt.Errorf("writing districts: %w", err)
	}
	provinceFC, err := buildProvinces()
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(*out, "reference", "provinces.geojson"), provinceFC); err != nil {
		return fmt.Errorf("writing provinces: %w", err)
	}
	log.Printf("reference data: %d districts, %d provinces", len(districtFC), len(provinceFC))

	// Run the real transform over the generated data so the expected
	// output cannot drift from what the pipeline would produce.
	rows, active, err := expectedRows(defs, districts)
	if err != nil {
		return err
	}
	csvPath := filepath.Join(*out, "expected_alertas.csv")
	if err := store.NewCSVFile(csvPath).Replace(rows); err != nil {
		return fmt.Errorf("writing expected output: %w", err)
	}
	log.Printf("expected output: %s", csvPath)

	printMatches(rows, len(defs), active)
	return nil
}

func bulletinHTML(defs []alertDef) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><body>\n<h1>Avisos meteorológicos vigentes</h1>\n<table>\n")
	b.WriteString("  <tr><th>Aviso</th><th>Nro</th><th>Emisión</th><th>Inicio</th><th>Fin</th><th>Duración</th><th>Nivel</th></tr>\n")
	for _, d := range defs {
		raw := d.rawAlert()
		hours := 24 * (d.endOffset - d.startOffset + 1)
		fmt.Fprintf(&b, "  <tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d horas</td><td>%s</td></tr>\n",
			html.EscapeString(raw.Label), raw.Number, raw.Issued, raw.Start, raw.End, hours, raw.Level)
	}
	b.WriteString("</table>\n</body></html>\n")
	return b.String()
}

// writeShapeZip builds a polygon shapefile with a NIVEL attribute and
// zips it the way GeoServer serves SHAPE-ZIP downloads. The nationwide
// background outline is always the first record, as in the real
// service.
func writeShapeZip(path string, hazards []hazard) error {
	scratch, err := os.MkdirTemp("", "genmock-shape-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	base := filepath.Join(scratch, "g_aviso")
	w, err := shp.Create(base+".shp", shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	if err := w.SetFields([]shp.Field{shp.StringField("NIVEL", 30)}); err != nil {
		w.Close()
		return fmt.Errorf("set fields: %w", err)
	}

	records := append([]hazard{{level: domain.BackgroundLevel, area: backgroundArea}}, hazards...)
	for i, h := range records {
		w.Write((*shp.Polygon)(shp.NewPolyLine([][]shp.Point{h.area.ring()})))
		if err := w.WriteAttribute(i, 0, h.level); err != nil {
			w.Close()
			return fmt.Errorf("write attribute %d: %w", i, err)
		}
	}
	w.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			return err
		}
		member, err := zw.Create("g_aviso" + ext)
		if err != nil {
			return err
		}
		if _, err := member.Write(data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

func buildDistricts() ([]domain.District, geom.GeoJSONFeatureCollection, error) {
	byCode := make(map[string]string, len(mockProvinces))
	for _, p := range mockProvinces {
		byCode[p.ccdd+p.ccpp] = p.name
	}

	districts := make([]domain.District, 0, len(mockDistricts))
	fc := make(geom.GeoJSONFeatureCollection, 0, len(mockDistricts))
	for i, d := range mockDistricts {
		g, err := districtCell(i).geometry()
		if err != nil {
			return nil, nil, fmt.Errorf("district %s: %w", d.name, err)
		}
		districts = append(districts, domain.District{
			Ubigeo:   d.ubigeo,
			Name:     d.name,
			Province: byCode[d.ubigeo[:4]],
			Boundary: g,
		})
		fc = append(fc, geom.GeoJSONFeature{
			Geometry:   g,
			Properties: map[string]interface{}{"ubigeo": d.ubigeo, "nombdist": d.name},
		})
	}
	return districts, fc, nil
}

// buildProvinces emits one feature per province whose geometry is the
// bounding box of its district cells.
func buildProvinces() (geom.GeoJSONFeatureCollection, error) {
	fc := make(geom.GeoJSONFeatureCollection, 0, len(mockProvinces))
	for _, p := range mockProvinces {
		var bounds rect
		first := true
		for i, d := range mockDistricts {
			if !strings.HasPrefix(d.ubigeo, p.ccdd+p.ccpp) {
				continue
			}
			if first {
				bounds = districtCell(i)
				first = false
				continue
			}
			bounds = bounds.union(districtCell(i))
		}
		g, err := bounds.geometry()
		if err != nil {
			return nil, fmt.Errorf("province %s: %w", p.name, err)
		}
		fc = append(fc, geom.GeoJSONFeature{
			Geometry:   g,
			Properties: map[string]interface{}{"ccdd": p.ccdd, "ccpp": p.ccpp, "nombprov": p.name},
		})
	}
	return fc, nil
}

func expectedRows(defs []alertDef, districts []domain.District) ([]domain.AffectedDistrict, int, error) {
	byNumber := make(map[string]alertDef, len(defs))
	parsed := make([]domain.Alert, 0, len(defs))
	for _, d := range defs {
		alert, err := domain.ParseAlert(d.rawAlert())
		if err != nil {
			return nil, 0, fmt.Errorf("aviso %s: %w", d.number, err)
		}
		parsed = append(parsed, alert)
		byNumber[alert.Number] = d
	}
	active := domain.FilterActive(parsed, domain.Today())

	bg, err := backgroundArea.geometry()
	if err != nil {
		return nil, 0, err
	}

	var rows []domain.AffectedDistrict //nolint:prealloc // row count depends on intersections
	for _, alert := range active {
		def := byNumber[alert.Number]
		features := []domain.GeometryFeature{{Level: domain.BackgroundLevel, Polygon: bg}}
		for _, h := range def.hazards {
			g, err := h.area.geometry()
			if err != nil {
				return nil, 0, fmt.Errorf("aviso %s: %w", def.number, err)
			}
			features = append(features, domain.GeometryFeature{Level: h.level, Polygon: g})
		}
		rows = append(rows, domain.MatchDistricts(alert, domain.FilterFeatures(features), districts, department)...)
	}
	return domain.Dedupe(rows), len(active), nil
}

func printMatches(rows []domain.AffectedDistrict, published, active int) {
	fmt.Println("\n=== Expected matches for updating test assertions ===")
	fmt.Printf("Today: %s\n", domain.Today().Format(domain.DateLayout))
	fmt.Printf("Alerts: %d published, %d active\n", published, active)
	fmt.Printf("Rows: %d\n", len(rows))

	var order []string
	byAlert := map[string][]domain.AffectedDistrict{}
	for _, r := range rows {
		if _, seen := byAlert[r.Number]; !seen {
			order = append(order, r.Number)
		}
		byAlert[r.Number] = append(byAlert[r.Number], r)
	}

	levels := make([]string, 0, len(order))
	for _, nro := range order {
		group := byAlert[nro]
		first := group[0]
		levels = append(levels, first.Level)
		names := make([]string, len(group))
		for i, r := range group {
			names[i] = r.District
		}
		fmt.Printf("Aviso %s (%s, %s a %s): %s\n",
			nro, first.Level,
			first.Start.Format(domain.DateLayout), first.End.Format(domain.DateLayout),
			strings.Join(names, ", "))
	}
	fmt.Printf("Max level: %s\n", domain.MaxLevel(levels))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return writeFile(path, data)
}
