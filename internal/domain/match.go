package domain

import (
	"github.com/couchcryptid/alert-district-etl/internal/geo"
)

// MatchDistricts intersects every district boundary against every
// hazard feature and emits one row per intersecting pair, in registry
// order. The predicate is permissive: overlap, shared boundary, or a
// single touching point all count. A district intersecting several
// features of the same alert produces duplicate rows here; Dedupe
// collapses them after all alerts are assembled.
func MatchDistricts(alert Alert, features []GeometryFeature, districts []District, department string) []AffectedDistrict {
	var out []AffectedDistrict
	for _, d := range districts {
		for _, f := range features {
			if geo.Intersects(d.Boundary, f.Polygon) {
				out = append(out, AffectedDistrict{
					Label:      alert.Label,
					Number:     alert.Number,
					Level:      alert.Level,
					Start:      alert.Start,
					End:        alert.End,
					Department: department,
					Province:   d.Province,
					District:   d.Name,
				})
			}
		}
	}
	return out
}
