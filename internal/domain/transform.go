package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in the flat file and the
// history store.
const DateLayout = "2006-01-02"

var (
	// nonDigitRe strips everything but digits from a bulletin alert
	// number, e.g. "Aviso N° 123" -> "123".
	nonDigitRe = regexp.MustCompile(`[^0-9]`)

	// yearRe captures the leading 4-digit year of an issue-date string,
	// e.g. "2025-08-21 10:00" -> "2025".
	yearRe = regexp.MustCompile(`^(\d{4})`)
)

// dateLayouts are tried in order when parsing bulletin dates. The
// published table uses ISO order; day-first forms appear in older
// bulletins.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseAlert normalizes one scraped bulletin row into an Alert. The
// number keeps digits only, free-text fields are trimmed, and the start
// and end dates are parsed and normalized to midnight. An unparsable
// start or end date is an error; callers exclude the row with a warning
// rather than aborting the batch.
func ParseAlert(raw RawAlert) (Alert, error) {
	number := NormalizeNumber(raw.Number)
	if number == "" {
		return Alert{}, fmt.Errorf("parse alert: no digits in number %q", raw.Number)
	}

	start, err := ParseDate(raw.Start)
	if err != nil {
		return Alert{}, fmt.Errorf("parse alert %s: start date: %w", number, err)
	}
	end, err := ParseDate(raw.End)
	if err != nil {
		return Alert{}, fmt.Errorf("parse alert %s: end date: %w", number, err)
	}

	return Alert{
		Number: number,
		Label:  strings.TrimSpace(raw.Label),
		Level:  strings.TrimSpace(raw.Level),
		Issued: strings.TrimSpace(raw.Issued),
		Start:  Midnight(start),
		End:    Midnight(end),
	}, nil
}

// NormalizeNumber strips every non-digit character from a bulletin
// alert number.
func NormalizeNumber(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// ParseDate parses a bulletin date string, trying each known layout.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// AlertYear derives the geometry-service year key from an alert's raw
// issue-date string: its leading 4 digits, or fallback when the field
// does not start with one.
func AlertYear(issued, fallback string) string {
	m := yearRe.FindStringSubmatch(strings.TrimSpace(issued))
	if len(m) == 2 {
		return m[1]
	}
	return fallback
}

// Midnight truncates t to the start of its calendar day, keeping the
// location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Today returns the current calendar date at midnight, from the
// package clock.
func Today() time.Time {
	return Midnight(clock.Now())
}

// FilterActive returns the alerts still in force on the given day: end
// date ≥ today, inclusive, so an alert ending today is still active.
// Source order is preserved so runs are deterministic.
func FilterActive(alerts []Alert, today time.Time) []Alert {
	today = Midnight(today)
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.End.Before(today) {
			out = append(out, a)
		}
	}
	return out
}

// FilterFeatures drops the background reference layer from a geometry
// download. An empty result means the alert contributes no districts;
// that is a valid outcome, not an error.
func FilterFeatures(features []GeometryFeature) []GeometryFeature {
	out := make([]GeometryFeature, 0, len(features))
	for _, f := range features {
		if f.Level != BackgroundLevel {
			out = append(out, f)
		}
	}
	return out
}

// Status derives the history status of an alert from its end date:
// active while the end date has not passed, expired afterwards.
func Status(end, today time.Time) string {
	if !end.Before(Midnight(today)) {
		return StatusActive
	}
	return StatusExpired
}

// severityRank orders bulletin levels for "highest level" summaries.
// Unranked levels sort below all known ones.
var severityRank = map[string]int{
	"VERDE":    1,
	"AMARILLO": 2,
	"NARANJA":  3,
	"ROJO":     4,
}

// MaxLevel returns the most severe bulletin level present, or "" for an
// empty list. Among unranked levels the first one wins.
func MaxLevel(levels []string) string {
	best := ""
	bestRank := -1
	for _, l := range levels {
		r := severityRank[strings.ToUpper(strings.TrimSpace(l))]
		if r > bestRank {
			bestRank = r
			best = l
		}
	}
	return best
}

// Record returns the row in flat-file column order:
// Aviso, Nro, Nivel, Inicio, Fin, Departamento, Provincia, Distrito.
func (r AffectedDistrict) Record() []string {
	return []string{
		r.Label,
		r.Number,
		r.Level,
		r.Start.Format(DateLayout),
		r.End.Format(DateLayout),
		r.Department,
		r.Province,
		r.District,
	}
}

// Dedupe drops exact-duplicate rows, keeping first occurrences in
// insertion order. Running it on its own output is a no-op.
func Dedupe(rows []AffectedDistrict) []AffectedDistrict {
	seen := make(map[string]struct{}, len(rows))
	out := make([]AffectedDistrict, 0, len(rows))
	for _, r := range rows {
		key := strings.Join(r.Record(), "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
