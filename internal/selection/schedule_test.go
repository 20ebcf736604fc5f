package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name     string
		dates    string
		times    string
		format   Format
		dated    bool
		first    int
		last     int
		start    int
		end      int
	}{
		{"decimal hours", "", "9.5 a 13 hrs", FormatAuto, false, 0, 0, 570, 780},
		{"clock times with dates", "13 al 17 de enero", "8:00 a 12:00", FormatAuto, true, 13, 17, 480, 720},
		{"hour without minutes", "20 AL 24 de Enero", "8 a 12:30", FormatDateRange, true, 20, 24, 480, 750},
		{"time format ignores dates", "13 al 17 de enero", "9 a 13 hrs", FormatTime, false, 0, 0, 540, 780},
		{"month before al", "3 de febrero al 7 de febrero", "16:00 a 20:00", FormatAuto, true, 3, 7, 960, 1200},
		{"blank dates in auto", "   ", "8:00 a 12:00", FormatAuto, false, 0, 0, 480, 720},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow("PERIOD_1", tt.dates, tt.times, tt.format)
			require.NoError(t, err)
			assert.True(t, w.Valid)
			assert.Equal(t, tt.dated, w.Dated)
			assert.Equal(t, tt.first, w.FirstDay)
			assert.Equal(t, tt.last, w.LastDay)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, tt.end, w.End)
		})
	}
}

func TestParseWindowMalformed(t *testing.T) {
	tests := []struct {
		name   string
		dates  string
		times  string
		format Format
	}{
		{"no times", "13 al 17", "por definir", FormatAuto},
		{"reversed times", "", "13 a 9 hrs", FormatAuto},
		{"bad minutes", "", "9:75 a 13:00", FormatAuto},
		{"missing date range", "enero", "8:00 a 12:00", FormatDateRange},
		{"dates spanning months", "28 de enero al 3 de febrero", "8:00 a 12:00", FormatDateRange},
		{"single day in auto", "20 de enero", "8:00 a 12:00", FormatAuto},
		{"month only in auto", "enero", "8:00 a 12:00", FormatAuto},
		{"reversed days in auto", "17 al 13 de enero", "8:00 a 12:00", FormatAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow("PERIOD_1", tt.dates, tt.times, tt.format)
			assert.ErrorIs(t, err, ErrMalformedSchedule)
			assert.False(t, w.Valid)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatAuto, f)

	f, err = ParseFormat(" DateRange ")
	require.NoError(t, err)
	assert.Equal(t, FormatDateRange, f)

	_, err = ParseFormat("weekly")
	assert.Error(t, err)
}

func TestNormalizePeriod(t *testing.T) {
	for raw, want := range map[string]string{
		"PERIOD_1":   "PERIOD_1",
		"Período 2":  "PERIOD_2",
		"periodo_1":  "PERIOD_1",
		"1":          "PERIOD_1",
		" PERIODO 2": "PERIOD_2",
	} {
		got, err := NormalizePeriod(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := NormalizePeriod("verano")
	assert.Error(t, err)
	_, err = NormalizePeriod("periodo 0")
	assert.Error(t, err)
}
