package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLabel  = "Precipitación intensa en la sierra"
	testIssued = "2025-03-08 10:00"
)

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	require.NoError(t, err)
	return d
}

func TestParseAlert(t *testing.T) {
	t.Run("bulletin row", func(t *testing.T) {
		raw := RawAlert{
			Label:  "  " + testLabel + "  ",
			Number: "Aviso N° 123",
			Issued: " " + testIssued + " ",
			Start:  "2025-03-10 00:00",
			End:    "2025-03-12 23:59",
			Level:  " NARANJA ",
		}

		alert, err := ParseAlert(raw)

		require.NoError(t, err)
		assert.Equal(t, "123", alert.Number)
		assert.Equal(t, testLabel, alert.Label)
		assert.Equal(t, "NARANJA", alert.Level)
		assert.Equal(t, testIssued, alert.Issued)
		assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), alert.Start)
		// End keeps the calendar date only; the 23:59 clock time is
		// dropped by midnight normalization.
		assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), alert.End)
	})

	t.Run("day-first dates", func(t *testing.T) {
		raw := RawAlert{
			Number: "45",
			Start:  "10/03/2025",
			End:    "12/03/2025 18:00",
		}

		alert, err := ParseAlert(raw)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), alert.Start)
		assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), alert.End)
	})

	t.Run("no digits in number", func(t *testing.T) {
		_, err := ParseAlert(RawAlert{Number: "Aviso S/N", Start: "2025-03-10", End: "2025-03-12"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no digits")
	})

	t.Run("unparsable start date", func(t *testing.T) {
		_, err := ParseAlert(RawAlert{Number: "123", Start: "pronto", End: "2025-03-12"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "start date")
	})

	t.Run("unparsable end date", func(t *testing.T) {
		_, err := ParseAlert(RawAlert{Number: "123", Start: "2025-03-10", End: ""})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "end date")
	})
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"prefixed", "Aviso N° 123", "123"},
		{"plain digits", "456", "456"},
		{"digits with spaces", " 78 9 ", "789"},
		{"no digits", "sin número", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeNumber(tt.input))
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"iso datetime", "2025-03-10 15:04:05", time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC), false},
		{"iso datetime no seconds", "2025-03-10 15:04", time.Date(2025, 3, 10, 15, 4, 0, 0, time.UTC), false},
		{"iso date", "2025-03-10", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), false},
		{"day first with time", "10/03/2025 15:04", time.Date(2025, 3, 10, 15, 4, 0, 0, time.UTC), false},
		{"day first", "10/03/2025", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), false},
		{"padded", "  2025-03-10  ", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"garbage", "mañana", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAlertYear(t *testing.T) {
	tests := []struct {
		name     string
		issued   string
		fallback string
		expected string
	}{
		{"iso issue date", "2025-03-08 10:00", "1999", "2025"},
		{"bare year", "2024", "1999", "2024"},
		{"padded", "  2023-11-01", "1999", "2023"},
		{"day-first uses fallback", "08/03/2025", "1999", "1999"},
		{"empty uses fallback", "", "2025", "2025"},
		{"garbage uses fallback", "sin fecha", "2025", "2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AlertYear(tt.issued, tt.fallback))
		})
	}
}

func TestMidnight(t *testing.T) {
	lima := time.FixedZone("America/Lima", -5*3600)
	in := time.Date(2025, 3, 10, 18, 45, 12, 999, lima)

	got := Midnight(in)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, lima), got)
	assert.Equal(t, lima, got.Location())
}

func TestToday_UsesPackageClock(t *testing.T) {
	fixed := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	defer SetClock(nil)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Today())
}

func TestFilterActive(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	alerts := []Alert{
		{Number: "1", End: mustDay(t, "2025-03-09")},
		{Number: "2", End: mustDay(t, "2025-03-10")},
		{Number: "3", End: mustDay(t, "2025-03-15")},
	}

	t.Run("end date today is still active", func(t *testing.T) {
		got := FilterActive(alerts, today)

		require.Len(t, got, 2)
		assert.Equal(t, "2", got[0].Number)
		assert.Equal(t, "3", got[1].Number)
	})

	t.Run("reference time is normalized to midnight", func(t *testing.T) {
		afternoon := today.Add(14*time.Hour + 30*time.Minute)

		got := FilterActive(alerts, afternoon)

		// Same outcome as at midnight: alert 2 ends today and stays.
		require.Len(t, got, 2)
		assert.Equal(t, "2", got[0].Number)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FilterActive(nil, today))
	})
}

func TestFilterFeatures(t *testing.T) {
	features := []GeometryFeature{
		{Level: "Nivel 1"},
		{Level: "Nivel 2"},
		{Level: "Nivel 4"},
		{Level: "nivel 1"},
		{Level: ""},
	}

	got := FilterFeatures(features)

	// Only the exact background tag is dropped; matching is
	// case-sensitive, so "nivel 1" survives.
	require.Len(t, got, 4)
	assert.Equal(t, "Nivel 2", got[0].Level)
	assert.Equal(t, "nivel 1", got[2].Level)

	t.Run("background only", func(t *testing.T) {
		only := []GeometryFeature{{Level: "Nivel 1"}, {Level: "Nivel 1"}}
		assert.Empty(t, FilterFeatures(only))
	})
}

func TestStatus(t *testing.T) {
	today := mustDay(t, "2025-03-10")

	tests := []struct {
		name     string
		end      time.Time
		expected string
	}{
		{"ends tomorrow", mustDay(t, "2025-03-11"), StatusActive},
		{"ends today", mustDay(t, "2025-03-10"), StatusActive},
		{"ended yesterday", mustDay(t, "2025-03-09"), StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Status(tt.end, today))
		})
	}
}

func TestMaxLevel(t *testing.T) {
	tests := []struct {
		name     string
		levels   []string
		expected string
	}{
		{"red outranks all", []string{"AMARILLO", "ROJO", "NARANJA"}, "ROJO"},
		{"orange over yellow", []string{"AMARILLO", "NARANJA"}, "NARANJA"},
		{"single", []string{"VERDE"}, "VERDE"},
		{"unknown alone", []string{"MORADO"}, "MORADO"},
		{"known beats unknown", []string{"MORADO", "VERDE"}, "VERDE"},
		{"case insensitive rank", []string{"rojo", "NARANJA"}, "rojo"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaxLevel(tt.levels))
		})
	}
}

func TestRecord_ColumnOrder(t *testing.T) {
	r := AffectedDistrict{
		Label:      testLabel,
		Number:     "123",
		Level:      "NARANJA",
		Start:      mustDay(t, "2025-03-10"),
		End:        mustDay(t, "2025-03-12"),
		Department: "MOQUEGUA",
		Province:   "GENERAL SANCHEZ CERRO",
		District:   "UBINAS",
	}

	assert.Equal(t, []string{
		testLabel, "123", "NARANJA", "2025-03-10", "2025-03-12",
		"MOQUEGUA", "GENERAL SANCHEZ CERRO", "UBINAS",
	}, r.Record())
}

func TestDedupe(t *testing.T) {
	a := AffectedDistrict{Number: "123", District: "UBINAS", Start: mustDay(t, "2025-03-10"), End: mustDay(t, "2025-03-12")}
	b := AffectedDistrict{Number: "123", District: "CHOJATA", Start: mustDay(t, "2025-03-10"), End: mustDay(t, "2025-03-12")}
	c := AffectedDistrict{Number: "124", District: "UBINAS", Start: mustDay(t, "2025-03-10"), End: mustDay(t, "2025-03-12")}

	t.Run("collapses exact duplicates keeping first occurrence", func(t *testing.T) {
		got := Dedupe([]AffectedDistrict{a, b, a, c, b})

		assert.Equal(t, []AffectedDistrict{a, b, c}, got)
	})

	t.Run("differing field is not a duplicate", func(t *testing.T) {
		a2 := a
		a2.Level = "ROJO"

		got := Dedupe([]AffectedDistrict{a, a2})

		assert.Len(t, got, 2)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Dedupe([]AffectedDistrict{a, b, a})
		twice := Dedupe(once)

		assert.Equal(t, once, twice)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Dedupe(nil))
	})
}
