package domain

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

func testDistrict(t *testing.T, ubigeo, name, province, wkt string) District {
	t.Helper()
	return District{Ubigeo: ubigeo, Name: name, Province: province, Boundary: mustWKT(t, wkt)}
}

func testRegistry(t *testing.T) []District {
	t.Helper()
	return []District{
		testDistrict(t, "180101", "MOQUEGUA", "MARISCAL NIETO", "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))"),
		testDistrict(t, "180201", "OMATE", "GENERAL SANCHEZ CERRO", "POLYGON((2 0, 3 0, 3 1, 2 1, 2 0))"),
		testDistrict(t, "180301", "ILO", "ILO", "POLYGON((4 0, 5 0, 5 1, 4 1, 4 0))"),
	}
}

func TestMatchDistricts(t *testing.T) {
	alert := Alert{
		Number: "123",
		Label:  testLabel,
		Level:  "NARANJA",
		Start:  mustDay(t, "2025-03-10"),
		End:    mustDay(t, "2025-03-12"),
	}
	districts := testRegistry(t)

	t.Run("row per intersecting pair in registry order", func(t *testing.T) {
		features := []GeometryFeature{
			{Level: "Nivel 2", Polygon: mustWKT(t, "POLYGON((0.5 0.2, 2.5 0.2, 2.5 0.8, 0.5 0.8, 0.5 0.2))")},
			{Level: "Nivel 3", Polygon: mustWKT(t, "POLYGON((2.5 0.2, 4.5 0.2, 4.5 0.8, 2.5 0.8, 2.5 0.2))")},
		}

		rows := MatchDistricts(alert, features, districts, "MOQUEGUA")

		// OMATE intersects both features, so it appears twice until
		// Dedupe runs.
		require.Len(t, rows, 4)
		var names []string
		for _, r := range rows {
			names = append(names, r.District)
		}
		assert.Equal(t, []string{"MOQUEGUA", "OMATE", "OMATE", "ILO"}, names)

		deduped := Dedupe(rows)
		names = names[:0]
		for _, r := range deduped {
			names = append(names, r.District)
		}
		assert.Equal(t, []string{"MOQUEGUA", "OMATE", "ILO"}, names)
	})

	t.Run("denormalized fields", func(t *testing.T) {
		features := []GeometryFeature{
			{Level: "Nivel 2", Polygon: mustWKT(t, "POLYGON((0.2 0.2, 0.8 0.2, 0.8 0.8, 0.2 0.8, 0.2 0.2))")},
		}

		rows := MatchDistricts(alert, features, districts, "MOQUEGUA")

		require.Len(t, rows, 1)
		assert.Equal(t, AffectedDistrict{
			Label:      testLabel,
			Number:     "123",
			Level:      "NARANJA",
			Start:      mustDay(t, "2025-03-10"),
			End:        mustDay(t, "2025-03-12"),
			Department: "MOQUEGUA",
			Province:   "MARISCAL NIETO",
			District:   "MOQUEGUA",
		}, rows[0])
	})

	t.Run("corner touch counts as affected", func(t *testing.T) {
		features := []GeometryFeature{
			{Level: "Nivel 2", Polygon: mustWKT(t, "POLYGON((1 1, 2 1, 2 2, 1 2, 1 1))")},
		}

		rows := MatchDistricts(alert, features, districts, "MOQUEGUA")

		require.Len(t, rows, 1)
		assert.Equal(t, "MOQUEGUA", rows[0].District)
	})

	t.Run("skips untouched middle district", func(t *testing.T) {
		features := []GeometryFeature{
			{Level: "Nivel 2", Polygon: mustWKT(t, "POLYGON((0.2 0.2, 0.8 0.2, 0.8 0.8, 0.2 0.8, 0.2 0.2))")},
			{Level: "Nivel 3", Polygon: mustWKT(t, "POLYGON((4.2 0.2, 4.8 0.2, 4.8 0.8, 4.2 0.8, 4.2 0.2))")},
		}

		rows := MatchDistricts(alert, features, districts, "MOQUEGUA")

		require.Len(t, rows, 2)
		assert.Equal(t, "MOQUEGUA", rows[0].District)
		assert.Equal(t, "ILO", rows[1].District)
	})

	t.Run("disjoint hazard produces nothing", func(t *testing.T) {
		features := []GeometryFeature{
			{Level: "Nivel 4", Polygon: mustWKT(t, "POLYGON((10 10, 11 10, 11 11, 10 11, 10 10))")},
		}

		assert.Empty(t, MatchDistricts(alert, features, districts, "MOQUEGUA"))
	})

	t.Run("no features produces nothing", func(t *testing.T) {
		assert.Empty(t, MatchDistricts(alert, nil, districts, "MOQUEGUA"))
	})
}
