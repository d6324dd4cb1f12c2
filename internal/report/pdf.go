// Package report builds the PDF documents served by the dashboard: a
// summary over all active alerts and a per-alert detail sheet. All
// wording is Spanish, matching the published bulletins.
package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

// AlertSection is one alert plus its affected districts, ready for
// layout.
type AlertSection struct {
	Record    store.HistoryRecord
	Districts []store.DistrictRef
}

// levelRGB maps severity levels to table accent colors.
var levelRGB = map[string][3]int{
	"ROJO":     {214, 39, 40},
	"NARANJA":  {255, 127, 14},
	"AMARILLO": {255, 215, 0},
	"VERDE":    {44, 160, 44},
}

var defaultRGB = [3]int{31, 119, 180}

var statusDisplay = map[string]string{
	domain.StatusActive:  "ACTIVA",
	domain.StatusExpired: "EXPIRADA",
}

// Generator renders report PDFs and archives a copy of each document
// under dir. An empty dir disables archiving.
type Generator struct {
	dir    string
	region string
	logger *slog.Logger
}

// NewGenerator creates a report generator for the given region name.
func NewGenerator(dir, region string, logger *slog.Logger) *Generator {
	return &Generator{dir: dir, region: region, logger: logger}
}

// Summary builds the overview report: headline numbers plus one section
// per active alert. Returns the document bytes and its file name.
func (g *Generator) Summary(summary *store.Summary, sections []AlertSection, now time.Time) ([]byte, string, error) {
	pdf, tr := g.newDoc("Sistema Automatizado de Alertas Meteorológicas - SENAMHI")
	g.titleBlock(pdf, tr, "REPORTE DE ALERTAS METEOROLÓGICAS", now)

	for _, row := range [][2]string{
		{"ALERTAS ACTIVAS", strconv.Itoa(summary.ActiveAlerts)},
		{"DISTRITOS AFECTADOS", strconv.Itoa(summary.AffectedDistricts)},
		{"NIVEL MÁXIMO", orDash(summary.MaxLevel)},
		{"ÚLTIMA ACTUALIZACIÓN", orDash(formatDay(summary.LastStart))},
	} {
		labelValueRow(pdf, tr, 90, row[0], row[1])
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, tr("DETALLE DE ALERTAS"), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(sections) == 0 {
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(0, 8, tr("No hay alertas activas."), "", 1, "L", false, 0, "")
	}
	for _, s := range sections {
		writeAlertSection(pdf, tr, s)
	}

	name := fmt.Sprintf("reporte_alertas_%s_%s.pdf", fileToken(g.region), now.Format("20060102"))
	return g.finish(pdf, name)
}

// Alert builds the detail sheet for a single alert, its affected
// districts grouped by province.
func (g *Generator) Alert(section AlertSection, now time.Time) ([]byte, string, error) {
	footer := fmt.Sprintf("Generado: %s | Sistema de Alertas Meteorológicas", now.Format("02/01/2006 15:04"))
	pdf, tr := g.newDoc(footer)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr("ALERTA METEOROLÓGICA"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("AVISO N° %s", section.Record.Number)), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	for _, row := range [][2]string{
		{"Aviso", section.Record.Label},
		{"Nivel de Alerta", section.Record.Level},
		{"Fecha de Inicio", section.Record.Start.Format("02/01/2006")},
		{"Fecha de Fin", section.Record.End.Format("02/01/2006")},
		{"Estado", displayStatus(section.Record.Status)},
		{"Departamento", strings.ToUpper(g.region)},
	} {
		labelValueRow(pdf, tr, 55, row[0], row[1])
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("DISTRITOS AFECTADOS (%d)", len(section.Districts))), "", 1, "L", false, 0, "")
	for _, prov := range provinceGroups(section.Districts) {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, tr(fmt.Sprintf("Provincia de %s", prov.name)), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, d := range prov.districts {
			pdf.CellFormat(0, 6, tr("  - "+d), "", 1, "L", false, 0, "")
		}
	}

	name := fmt.Sprintf("alerta_%s_%s.pdf", section.Record.Number, now.Format("20060102"))
	return g.finish(pdf, name)
}

func (g *Generator) newDoc(footer string) (*fpdf.Fpdf, func(string) string) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, tr(footer), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	return pdf, tr
}

func (g *Generator) titleBlock(pdf *fpdf.Fpdf, tr func(string) string, title string, now time.Time) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Departamento de %s", g.region)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Generado: %s", now.Format("02/01/2006 15:04"))), "", 1, "C", false, 0, "")
	pdf.Ln(6)
}

// finish closes the document and archives a copy. Archive trouble is
// logged, never fatal; the caller still gets the bytes.
func (g *Generator) finish(pdf *fpdf.Fpdf, name string) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("build %s: %w", name, err)
	}
	if g.dir != "" {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			g.logger.Warn("report archive dir", "error", err)
		} else if err := os.WriteFile(filepath.Join(g.dir, name), buf.Bytes(), 0o644); err != nil {
			g.logger.Warn("report archive write", "file", name, "error", err)
		}
	}
	return buf.Bytes(), name, nil
}

func writeAlertSection(pdf *fpdf.Fpdf, tr func(string) string, s AlertSection) {
	level := strings.ToUpper(strings.TrimSpace(s.Record.Level))
	rgb, ok := levelRGB[level]
	if !ok {
		rgb = defaultRGB
	}
	tr2, tg, tb := headerTextColor(rgb)

	pdf.SetFillColor(rgb[0], rgb[1], rgb[2])
	pdf.SetTextColor(tr2, tg, tb)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("AVISO N° %s - %s", s.Record.Number, s.Record.Level)), "1", 1, "L", true, 0, "")
	pdf.SetTextColor(0, 0, 0)

	for _, row := range [][2]string{
		{"Aviso", s.Record.Label},
		{"Nivel de Alerta", s.Record.Level},
		{"Fecha de Inicio", s.Record.Start.Format("02/01/2006")},
		{"Fecha de Fin", s.Record.End.Format("02/01/2006")},
		{"Estado", displayStatus(s.Record.Status)},
	} {
		labelValueRow(pdf, tr, 55, row[0], row[1])
	}

	names := districtNames(s.Districts)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Distritos Afectados (%d):", len(names))), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 6, tr(strings.Join(names, ", ")), "", "L", false)
	pdf.Ln(4)
}

func labelValueRow(pdf *fpdf.Fpdf, tr func(string) string, labelW float64, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(labelW, 8, tr(label), "1", 0, "L", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190-labelW, 8, tr(value), "1", 1, "L", false, 0, "")
}

// headerTextColor picks black or white for readability on the level
// accent color.
func headerTextColor(rgb [3]int) (int, int, int) {
	luma := 0.299*float64(rgb[0]) + 0.587*float64(rgb[1]) + 0.114*float64(rgb[2])
	if luma > 160 {
		return 0, 0, 0
	}
	return 255, 255, 255
}

type provinceGroup struct {
	name      string
	districts []string
}

// provinceGroups sorts districts into alphabetical province groups. A
// missing province groups under "-".
func provinceGroups(refs []store.DistrictRef) []provinceGroup {
	byProv := make(map[string][]string)
	for _, r := range refs {
		prov := r.Province
		if prov == "" {
			prov = "-"
		}
		byProv[prov] = append(byProv[prov], r.District)
	}

	names := make([]string, 0, len(byProv))
	for n := range byProv {
		names = append(names, n)
	}
	slices.Sort(names)

	groups := make([]provinceGroup, 0, len(names))
	for _, n := range names {
		ds := byProv[n]
		slices.Sort(ds)
		groups = append(groups, provinceGroup{name: n, districts: ds})
	}
	return groups
}

// districtNames returns the unique district names, sorted.
func districtNames(refs []store.DistrictRef) []string {
	seen := make(map[string]struct{}, len(refs))
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r.District]; dup {
			continue
		}
		seen[r.District] = struct{}{}
		names = append(names, r.District)
	}
	slices.Sort(names)
	return names
}

func displayStatus(status string) string {
	if s, ok := statusDisplay[status]; ok {
		return s
	}
	return strings.ToUpper(status)
}

// formatDay reformats a stored ISO date for display, passing through
// anything unparsable.
func formatDay(s string) string {
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t.Format("02/01/2006")
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fileToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}
