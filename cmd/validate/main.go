// Command validate performs end-to-end data integrity checks across the
// pipeline's data surfaces: the GeoJSON reference files, the published
// flat file, and the history database. It verifies field presence,
// per-row conformance, and cross-source consistency.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -reference-dir data/reference \
//	  -csv alertas_moquegua.csv \
//	  -db alertas_moquegua.db
//
// Pass -today to validate output produced on an earlier date, e.g.
// fixture trees written by genmock.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/couchcryptid/alert-district-etl/internal/adapter/registry"
	"github.com/couchcryptid/alert-district-etl/internal/domain"
	"github.com/couchcryptid/alert-district-etl/internal/geo"
	"github.com/couchcryptid/alert-district-etl/internal/store"
)

const regionPrefix = "18"

var knownLevels = map[string]bool{"VERDE": true, "AMARILLO": true, "NARANJA": true, "ROJO": true}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	referenceDir := flag.String("reference-dir", "", "directory containing districts.geojson and provinces.geojson")
	csvPath := flag.String("csv", "", "path to the published flat file")
	dbPath := flag.String("db", "", "path to the history database")
	today := flag.String("today", "", "validate as of this date (YYYY-MM-DD, default: current date)")
	flag.Parse()

	if *referenceDir == "" || *csvPath == "" || *dbPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*referenceDir, *csvPath, *dbPath, *today); code != 0 {
		os.Exit(code)
	}
}

func run(referenceDir, csvPath, dbPath, todayFlag string) int {
	// Pin the clock when validating output from a past run, so the
	// active/expired checks line up with the run date.
	if todayFlag != "" {
		at, err := time.Parse(domain.DateLayout, todayFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: -today %q is not YYYY-MM-DD: %v\n", todayFlag, err)
			return 1
		}
		domain.SetClock(clockwork.NewFakeClockAt(at.Add(10 * time.Hour)))
		defer domain.SetClock(nil)
	}
	ctx := context.Background()

	// ── Load all data sources ──
	fmt.Println("=== Alert Data Integrity Validation ===")
	fmt.Println()

	districts, err := loadCollection(filepath.Join(referenceDir, "districts.geojson"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load districts: %v\n", err)
		return 1
	}
	provinces, err := loadCollection(filepath.Join(referenceDir, "provinces.geojson"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load provinces: %v\n", err)
		return 1
	}

	rows, err := store.NewCSVFile(csvPath).Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load flat file: %v\n", err)
		return 1
	}

	history, err := store.NewHistoryStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open history db: %v\n", err)
		return 1
	}
	defer history.Close() //nolint:errcheck // process exits right after
	if err := history.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: init history db: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateReference(districts, provinces),
		validateOutput(rows, domain.Today()),
		validateCrossRef(ctx, rows, referenceDir),
		validateHistory(ctx, history, rows, domain.Today()),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d districts, %d provinces, %d flat-file rows\n",
		len(districts), len(provinces), len(rows))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadCollection(path string) (geom.GeoJSONFeatureCollection, error) {
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

func stringProp(f geom.GeoJSONFeature, key string) string {
	s, _ := f.Properties[key].(string)
	return strings.TrimSpace(s)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ── Phase 1: Reference Integrity ──
// Validates the GeoJSON reference files field by field, beyond what the
// production loader reports.

func validateReference(districts, provinces geom.GeoJSONFeatureCollection) *phase {
	p := &phase{name: "Phase 1: Reference Integrity (GeoJSON)"}

	provByCode := map[string]string{}
	for i, f := range provinces {
		code := stringProp(f, "ccdd") + stringProp(f, "ccpp")
		name := stringProp(f, "nombprov")
		switch {
		case !allDigits(code) || len(code) != 4:
			p.errorf("province %d: bad code %q", i, code)
		case name == "":
			p.errorf("province %d: code %s missing nombprov", i, code)
		case provByCode[code] != "":
			p.errorf("province %d: duplicate code %s", i, code)
		default:
			provByCode[code] = name
		}
	}

	seen := map[string]bool{}
	inRegion := 0
	for i, f := range districts {
		ubigeo := stringProp(f, "ubigeo")
		name := stringProp(f, "nombdist")
		if !allDigits(ubigeo) || len(ubigeo) != 6 {
			p.errorf("district %d (%s): bad ubigeo %q", i, name, ubigeo)
			continue
		}
		if name == "" {
			p.errorf("district %d: ubigeo %s missing nombdist", i, ubigeo)
		}
		if seen[ubigeo] {
			p.errorf("district %d: duplicate ubigeo %s", i, ubigeo)
		}
		seen[ubigeo] = true

		if !strings.HasPrefix(ubigeo, regionPrefix) {
			continue
		}
		inRegion++
		if _, err := geo.Repair(f.Geometry); err != nil {
			p.errorf("district %s (%s): unusable geometry: %v", ubigeo, name, err)
		}
		if provByCode[ubigeo[:4]] == "" {
			p.errorf("district %s (%s): no province record for code %s", ubigeo, name, ubigeo[:4])
		}
	}
	if inRegion == 0 {
		p.errorf("no districts with region prefix %s", regionPrefix)
	}
	return p
}

// ── Phase 2: Output Conformance ──
// Validates every flat-file row on its own: column values, date order,
// the no-expired-rows rule, and the exact-duplicate rule.

func validateOutput(rows []domain.AffectedDistrict, today time.Time) *phase {
	p := &phase{name: "Phase 2: Output Conformance (flat file)"}
	if len(rows) == 0 {
		// A header-only file is a valid run with no active alerts.
		return p
	}

	department := rows[0].Department
	seen := map[string]int{}
	for i, r := range rows {
		line := i + 2 // header is line 1
		if r.Label == "" {
			p.errorf("line %d: empty Aviso", line)
		}
		if !allDigits(r.Number) {
			p.errorf("line %d: Nro %q is not a bare number", line, r.Number)
		}
		if !knownLevels[r.Level] {
			p.errorf("line %d: unknown Nivel %q", line, r.Level)
		}
		if r.End.Before(r.Start) {
			p.errorf("line %d: Fin %s before Inicio %s", line,
				r.End.Format(domain.DateLayout), r.Start.Format(domain.DateLayout))
		}
		if domain.Status(r.End, today) != domain.StatusActive {
			p.errorf("line %d: aviso %s ended %s but is still published", line,
				r.Number, r.End.Format(domain.DateLayout))
		}
		if r.Department != department {
			p.errorf("line %d: Departamento %q differs from %q", line, r.Department, department)
		}
		if r.District == "" {
			p.errorf("line %d: empty Distrito", line)
		}

		key := strings.Join(r.Record(), "\x1f")
		if prev, dup := seen[key]; dup {
			p.errorf("line %d: exact duplicate of line %d", line, prev)
		} else {
			seen[key] = line
		}
	}
	return p
}

// ── Phase 3: Cross-Reference ──
// Validates flat-file rows against the reference data as the production
// loader sees it: every district must exist and carry its registry
// province.

func validateCrossRef(ctx context.Context, rows []domain.AffectedDistrict, referenceDir string) *phase {
	p := &phase{name: "Phase 3: Cross-Reference (flat file vs registry)"}

	reg, err := registry.Load(ctx, registry.Options{Dir: referenceDir, Prefix: regionPrefix},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		p.errorf("production loader rejected reference data: %v", err)
		return p
	}

	provinceOf := make(map[string]string, len(reg.Districts()))
	for _, d := range reg.Districts() {
		provinceOf[d.Name] = d.Province
	}

	for i, r := range rows {
		line := i + 2
		prov, ok := provinceOf[r.District]
		if !ok {
			p.errorf("line %d: district %q not in reference data", line, r.District)
			continue
		}
		if r.Province != prov {
			p.errorf("line %d: district %q has province %q, registry says %q", line, r.District, r.Province, prov)
		}
	}
	return p
}

// ── Phase 4: History Consistency ──
// Validates the history database against the flat file: every published
// alert must be an active history record carrying the same district
// set, and stored statuses must agree with the dates.

func validateHistory(ctx context.Context, history *store.HistoryStore, rows []domain.AffectedDistrict, today time.Time) *phase {
	p := &phase{name: "Phase 4: History Consistency (SQLite)"}

	active, err := history.ActiveAlerts(ctx)
	if err != nil {
		p.errorf("query active alerts: %v", err)
		return p
	}

	type alertKey struct{ nro, inicio string }
	byKey := make(map[alertKey]store.HistoryRecord, len(active))
	for _, rec := range active {
		if domain.Status(rec.End, today) != domain.StatusActive {
			p.errorf("alert %s: stored as active but ended %s", rec.Number, rec.End.Format(domain.DateLayout))
		}
		byKey[alertKey{rec.Number, rec.Start.Format(domain.DateLayout)}] = rec
	}

	groups := map[alertKey]map[string]bool{}
	var order []alertKey
	for _, r := range rows {
		k := alertKey{r.Number, r.Start.Format(domain.DateLayout)}
		if groups[k] == nil {
			groups[k] = map[string]bool{}
			order = append(order, k)
		}
		groups[k][r.District] = true
	}

	for _, k := range order {
		rec, ok := byKey[k]
		if !ok {
			p.errorf("aviso %s (inicio %s): published but not active in history", k.nro, k.inicio)
			continue
		}
		refs, err := history.DistrictsFor(ctx, rec.ID)
		if err != nil {
			p.errorf("aviso %s: query districts: %v", k.nro, err)
			continue
		}
		stored := make(map[string]bool, len(refs))
		for _, d := range refs {
			stored[d.District] = true
		}
		for _, name := range sortedKeys(groups[k]) {
			if !stored[name] {
				p.errorf("aviso %s: district %s published but not in history", k.nro, name)
			}
		}
		for _, name := range sortedKeys(stored) {
			if !groups[k][name] {
				p.errorf("aviso %s: district %s in history but not published", k.nro, name)
			}
		}
	}

	sum, err := history.Summarize(ctx)
	if err != nil {
		p.errorf("summarize: %v", err)
		return p
	}
	if sum.ActiveAlerts != len(active) {
		p.errorf("summary reports %d active alerts, query returned %d", sum.ActiveAlerts, len(active))
	}
	return p
}

// ── Helpers ──

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
