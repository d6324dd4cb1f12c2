// Package geo wraps the simplefeatures library with the small set of
// spatial operations the matcher needs: the permissive intersects
// predicate, topological repair, and assembly of polygons from raw
// shapefile rings.
package geo

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
)

// Intersects reports whether two geometries share at least one point.
// Interior overlap, a shared boundary segment, and a single touching
// corner all count.
func Intersects(a, b geom.Geometry) bool {
	return geom.Intersects(a, b)
}

// Repair returns a topologically valid version of g. Valid input passes
// through untouched. For polygons the fixes are coordinate-level:
// consecutive duplicate points are collapsed, open rings are closed, and
// degenerate rings (fewer than 4 points once closed) are dropped. A
// geometry that is still invalid afterwards, or is not polygonal, is an
// error; callers treat that alert's download as failed.
func Repair(g geom.Geometry) (geom.Geometry, error) {
	if err := g.Validate(); err == nil {
		return g, nil
	}

	var out geom.Geometry
	switch g.Type() {
	case geom.TypePolygon:
		p, ok := repairPolygon(g.MustAsPolygon())
		if !ok {
			return geom.Geometry{}, fmt.Errorf("repair geometry: degenerate polygon")
		}
		out = p.AsGeometry()
	case geom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		polys := make([]geom.Polygon, 0, mp.NumPolygons())
		for i := 0; i < mp.NumPolygons(); i++ {
			if p, ok := repairPolygon(mp.PolygonN(i)); ok {
				polys = append(polys, p)
			}
		}
		if len(polys) == 0 {
			return geom.Geometry{}, fmt.Errorf("repair geometry: no usable polygons")
		}
		out = geom.NewMultiPolygon(polys).AsGeometry()
	default:
		return geom.Geometry{}, fmt.Errorf("repair geometry: unsupported type %s", g.Type())
	}

	if err := out.Validate(); err != nil {
		return geom.Geometry{}, fmt.Errorf("repair geometry: %w", err)
	}
	return out, nil
}

func repairPolygon(p geom.Polygon) (geom.Polygon, bool) {
	ext, ok := repairRing(p.ExteriorRing())
	if !ok {
		return geom.Polygon{}, false
	}
	rings := []geom.LineString{ext}
	for i := 0; i < p.NumInteriorRings(); i++ {
		if r, ok := repairRing(p.InteriorRingN(i)); ok {
			rings = append(rings, r)
		}
	}
	return geom.NewPolygon(rings), true
}

// repairRing collapses consecutive duplicate points and closes the ring.
// Rings with fewer than 4 points after closing carry no area.
func repairRing(ls geom.LineString) (geom.LineString, bool) {
	seq := ls.Coordinates()
	coords := make([]float64, 0, 2*(seq.Length()+1))
	var last geom.XY
	n := 0
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		if n > 0 && xy == last {
			continue
		}
		coords = append(coords, xy.X, xy.Y)
		last = xy
		n++
	}
	if n >= 1 && (coords[0] != coords[len(coords)-2] || coords[1] != coords[len(coords)-1]) {
		coords = append(coords, coords[0], coords[1])
		n++
	}
	if n < 4 {
		return geom.LineString{}, false
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXY)), true
}

// PolygonsFromRings assembles a polygonal geometry from shapefile rings.
// Per the shapefile spec, outer rings wind clockwise (negative shoelace
// area) and holes counter-clockwise; a hole belongs to the most recent
// outer ring. Writers that emit only counter-clockwise rings are
// tolerated by treating every ring as an outer.
func PolygonsFromRings(rings [][]geom.XY) (geom.Geometry, error) {
	type ring struct {
		ls    geom.LineString
		outer bool
	}

	var rs []ring
	anyOuter := false
	for _, pts := range rings {
		ls, ok := closedRing(pts)
		if !ok {
			continue
		}
		outer := signedArea(pts) < 0
		anyOuter = anyOuter || outer
		rs = append(rs, ring{ls: ls, outer: outer})
	}
	if len(rs) == 0 {
		return geom.Geometry{}, fmt.Errorf("assemble polygons: no usable rings")
	}
	if !anyOuter {
		for i := range rs {
			rs[i].outer = true
		}
	}

	var polys []geom.Polygon
	var current []geom.LineString
	flush := func() {
		if len(current) > 0 {
			polys = append(polys, geom.NewPolygon(current))
			current = nil
		}
	}
	for _, r := range rs {
		if r.outer {
			flush()
			current = []geom.LineString{r.ls}
			continue
		}
		if len(current) == 0 {
			// Hole before any outer ring: promote it.
			current = []geom.LineString{r.ls}
			continue
		}
		current = append(current, r.ls)
	}
	flush()

	if len(polys) == 1 {
		return polys[0].AsGeometry(), nil
	}
	return geom.NewMultiPolygon(polys).AsGeometry(), nil
}

func closedRing(pts []geom.XY) (geom.LineString, bool) {
	coords := make([]float64, 0, 2*(len(pts)+1))
	var last geom.XY
	n := 0
	for _, xy := range pts {
		if n > 0 && xy == last {
			continue
		}
		coords = append(coords, xy.X, xy.Y)
		last = xy
		n++
	}
	if n >= 1 && (coords[0] != coords[len(coords)-2] || coords[1] != coords[len(coords)-1]) {
		coords = append(coords, coords[0], coords[1])
		n++
	}
	if n < 4 {
		return geom.LineString{}, false
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXY)), true
}

// signedArea computes the shoelace sum of a ring. Positive means
// counter-clockwise in conventional axis order.
func signedArea(pts []geom.XY) float64 {
	var sum float64
	for i := 0; i < len(pts); i++ {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Bounds accumulates the extent of a polygonal geometry over its
// exterior rings. ok is false for empty or non-polygonal input.
func Bounds(g geom.Geometry) (min, max geom.XY, ok bool) {
	first := true
	add := func(xy geom.XY) {
		if first {
			min, max = xy, xy
			first = false
			return
		}
		if xy.X < min.X {
			min.X = xy.X
		}
		if xy.Y < min.Y {
			min.Y = xy.Y
		}
		if xy.X > max.X {
			max.X = xy.X
		}
		if xy.Y > max.Y {
			max.Y = xy.Y
		}
	}

	eachExteriorRing(g, func(ls geom.LineString) {
		seq := ls.Coordinates()
		for i := 0; i < seq.Length(); i++ {
			add(seq.GetXY(i))
		}
	})
	return min, max, !first
}

// Centroid returns the area-weighted centroid of a polygonal geometry's
// largest member, used to place district labels. ok is false for empty
// or non-polygonal input.
func Centroid(g geom.Geometry) (geom.XY, bool) {
	var best geom.XY
	bestArea := -1.0
	eachExteriorRing(g, func(ls geom.LineString) {
		c, area := ringCentroid(ls)
		if area > bestArea {
			best, bestArea = c, area
		}
	})
	return best, bestArea >= 0
}

func ringCentroid(ls geom.LineString) (geom.XY, float64) {
	seq := ls.Coordinates()
	var cx, cy, area float64
	for i := 0; i+1 < seq.Length(); i++ {
		a := seq.GetXY(i)
		b := seq.GetXY(i + 1)
		cross := a.X*b.Y - b.X*a.Y
		area += cross
		cx += (a.X + b.X) * cross
		cy += (a.Y + b.Y) * cross
	}
	area /= 2
	if area == 0 {
		// Fall back to the vertex mean for zero-area rings.
		var sx, sy float64
		n := seq.Length()
		if n == 0 {
			return geom.XY{}, 0
		}
		for i := 0; i < n; i++ {
			xy := seq.GetXY(i)
			sx += xy.X
			sy += xy.Y
		}
		return geom.XY{X: sx / float64(n), Y: sy / float64(n)}, 0
	}
	c := geom.XY{X: cx / (6 * area), Y: cy / (6 * area)}
	if area < 0 {
		area = -area
	}
	return c, area
}

func eachExteriorRing(g geom.Geometry, fn func(geom.LineString)) {
	switch g.Type() {
	case geom.TypePolygon:
		fn(g.MustAsPolygon().ExteriorRing())
	case geom.TypeMultiPolygon:
		mp := g.MustAsMultiPolygon()
		for i := 0; i < mp.NumPolygons(); i++ {
			fn(mp.PolygonN(i).ExteriorRing())
		}
	}
}
