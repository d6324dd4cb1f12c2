package domain

import (
	"time"

	"github.com/peterstace/simplefeatures/geom"
)

// BackgroundLevel tags the nationwide reference outline bundled with
// every geometry download. It is not a hazard area and is dropped before
// intersection. Matching is exact and case-sensitive, as received.
const BackgroundLevel = "Nivel 1"

// History status values derived from an alert's end date.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// RawAlert mirrors one row of the published bulletin table before any
// normalization. All fields are strings exactly as scraped; the duration
// column is dropped at the source.
type RawAlert struct {
	Label  string `json:"aviso"`
	Number string `json:"nro"`
	Issued string `json:"emision"`
	Start  string `json:"inicio"`
	End    string `json:"fin"`
	Level  string `json:"nivel"`
}

// Alert is the domain-rich representation after parsing. Number holds
// digits only. Issued keeps the raw bulletin string because the geometry
// service is keyed by its leading 4-digit year, even when the rest of
// the field does not parse as a date.
type Alert struct {
	Number string    `json:"number"`
	Label  string    `json:"label"`
	Level  string    `json:"level"` // e.g. "ROJO", "NARANJA", "AMARILLO", "VERDE"
	Issued string    `json:"issued"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// GeometryFeature is one polygon of an alert's hazard area, tagged with
// the severity sub-level carried in the shapefile's NIVEL attribute.
type GeometryFeature struct {
	Level   string
	Polygon geom.Geometry
}

// District is one administrative district of the target region. Ubigeo
// is the 6-digit INEI code (2 region + 2 province + 2 district).
// Province is resolved during registry load and may be empty when no
// province record matches. The district set is immutable for a run.
type District struct {
	Ubigeo   string `json:"ubigeo"`
	Name     string `json:"name"`
	Province string `json:"province"`

	Boundary geom.Geometry `json:"-"`
}

// Province is a parent administrative unit. Code is the 4-digit ubigeo
// prefix shared by its districts.
type Province struct {
	Code string
	Name string
}

// AffectedDistrict is the flattened join of one alert and one district
// that spatially intersect. It is the unit of output and persistence.
type AffectedDistrict struct {
	Label      string    `json:"label"`
	Number     string    `json:"number"`
	Level      string    `json:"level"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Department string    `json:"department"`
	Province   string    `json:"province"`
	District   string    `json:"district"`
}

// RunSummary counts one batch run. Skipped holds per-alert failure notes
// keyed by alert number.
type RunSummary struct {
	Processed int
	Affected  int
	Skipped   map[string]string
	StartedAt time.Time
	Duration  time.Duration
}
