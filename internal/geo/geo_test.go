package geo

import (
	"testing"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWKT(t *testing.T, wkt string) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(wkt)
	require.NoError(t, err)
	return g
}

func rawWKT(t *testing.T, wkt string) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(wkt, geom.NoValidate{})
	require.NoError(t, err)
	return g
}

func TestIntersects(t *testing.T) {
	unit := mustWKT(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))")

	tests := []struct {
		name  string
		other string
		want  bool
	}{
		{"interior overlap", "POLYGON((0.5 0.5, 1.5 0.5, 1.5 1.5, 0.5 1.5, 0.5 0.5))", true},
		{"shared edge", "POLYGON((1 0, 2 0, 2 1, 1 1, 1 0))", true},
		{"single corner touch", "POLYGON((1 1, 2 1, 2 2, 1 2, 1 1))", true},
		{"disjoint", "POLYGON((5 5, 6 5, 6 6, 5 6, 5 5))", false},
		{"contained", "POLYGON((0.2 0.2, 0.8 0.2, 0.8 0.8, 0.2 0.8, 0.2 0.2))", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := mustWKT(t, tt.other)
			assert.Equal(t, tt.want, Intersects(unit, other))
			assert.Equal(t, tt.want, Intersects(other, unit))
		})
	}
}

func TestRepair_ValidPassthrough(t *testing.T) {
	g := mustWKT(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))")

	got, err := Repair(g)
	require.NoError(t, err)
	assert.Equal(t, g.AsText(), got.AsText())
}

func TestRepair_ClosesOpenRing(t *testing.T) {
	g := rawWKT(t, "POLYGON((0 0, 1 0, 1 1, 0 1))")
	require.Error(t, g.Validate())

	got, err := Repair(g)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.True(t, Intersects(got, mustWKT(t, "POLYGON((0.4 0.4, 0.6 0.4, 0.6 0.6, 0.4 0.6, 0.4 0.4))")))
}

func TestRepair_CollapsesDuplicatePoints(t *testing.T) {
	g := rawWKT(t, "POLYGON((0 0, 1 0, 1 0, 1 1, 0 1, 0 0))")

	got, err := Repair(g)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
}

func TestRepair_Unrepairable(t *testing.T) {
	// Bowtie: the boundary crosses itself, which coordinate-level fixes
	// cannot untangle.
	g := rawWKT(t, "POLYGON((0 0, 2 2, 2 0, 0 2, 0 0))")
	require.Error(t, g.Validate())

	_, err := Repair(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repair geometry")
}

func TestRepair_UnsupportedType(t *testing.T) {
	g := mustWKT(t, "LINESTRING(0 0, 1 1)")
	_, err := Repair(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestRepair_MultiPolygonDropsDegenerateMember(t *testing.T) {
	// Second member collapses to fewer than 4 distinct points.
	g := rawWKT(t, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1)), ((5 5, 5 5, 6 6, 5 5)))")
	require.Error(t, g.Validate())

	got, err := Repair(g)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.True(t, Intersects(got, mustWKT(t, "POLYGON((0.4 0.4, 0.6 0.4, 0.6 0.6, 0.4 0.6, 0.4 0.4))")))
	assert.False(t, Intersects(got, mustWKT(t, "POLYGON((5.4 5.4, 5.6 5.4, 5.6 5.6, 5.4 5.6, 5.4 5.4))")))
}

func TestPolygonsFromRings_SingleOuter(t *testing.T) {
	// Clockwise ring, the shapefile convention for outers.
	g, err := PolygonsFromRings([][]geom.XY{
		{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Equal(t, geom.TypePolygon, g.Type())
}

func TestPolygonsFromRings_OuterWithHole(t *testing.T) {
	g, err := PolygonsFromRings([][]geom.XY{
		// Outer: clockwise.
		{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}},
		// Hole: counter-clockwise.
		{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}, {X: 1, Y: 3}, {X: 1, Y: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	require.Equal(t, geom.TypePolygon, g.Type())
	assert.Equal(t, 1, g.MustAsPolygon().NumInteriorRings())

	insideHole := mustWKT(t, "POLYGON((1.6 1.6, 2.4 1.6, 2.4 2.4, 1.6 2.4, 1.6 1.6))")
	insideShell := mustWKT(t, "POLYGON((0.2 0.2, 0.8 0.2, 0.8 0.8, 0.2 0.8, 0.2 0.2))")
	assert.False(t, Intersects(g, insideHole))
	assert.True(t, Intersects(g, insideShell))
}

func TestPolygonsFromRings_TwoOuters(t *testing.T) {
	g, err := PolygonsFromRings([][]geom.XY{
		{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}},
		{{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, geom.TypeMultiPolygon, g.Type())
	assert.Equal(t, 2, g.MustAsMultiPolygon().NumPolygons())
}

func TestPolygonsFromRings_AllCounterClockwise(t *testing.T) {
	// Some writers ignore the winding convention; every ring becomes an
	// outer rather than an orphaned hole.
	g, err := PolygonsFromRings([][]geom.XY{
		{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}},
		{{X: 5, Y: 5}, {X: 6, Y: 5}, {X: 6, Y: 6}, {X: 5, Y: 6}, {X: 5, Y: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, geom.TypeMultiPolygon, g.Type())
}

func TestPolygonsFromRings_NoUsableRings(t *testing.T) {
	_, err := PolygonsFromRings([][]geom.XY{
		{{X: 0, Y: 0}, {X: 0, Y: 0}},
	})
	require.Error(t, err)
}

func TestBounds(t *testing.T) {
	g := mustWKT(t, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1, 0 0)), ((5 5, 6 5, 6 7, 5 7, 5 5)))")

	min, max, ok := Bounds(g)
	require.True(t, ok)
	assert.Equal(t, geom.XY{X: 0, Y: 0}, min)
	assert.Equal(t, geom.XY{X: 6, Y: 7}, max)
}

func TestBounds_NonPolygonal(t *testing.T) {
	_, _, ok := Bounds(mustWKT(t, "POINT(1 2)"))
	assert.False(t, ok)
}

func TestCentroid(t *testing.T) {
	g := mustWKT(t, "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))")

	c, ok := Centroid(g)
	require.True(t, ok)
	assert.InDelta(t, 1.0, c.X, 1e-9)
	assert.InDelta(t, 1.0, c.Y, 1e-9)
}

func TestCentroid_LargestMemberWins(t *testing.T) {
	g := mustWKT(t, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1, 0 0)), ((10 10, 14 10, 14 14, 10 14, 10 10)))")

	c, ok := Centroid(g)
	require.True(t, ok)
	assert.InDelta(t, 12.0, c.X, 1e-9)
	assert.InDelta(t, 12.0, c.Y, 1e-9)
}
