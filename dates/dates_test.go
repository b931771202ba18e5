package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalize_DayFirstLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"1/3/2024", date(2024, time.March, 1)},
		{"01/03/2024", date(2024, time.March, 1)},
		{"01-03-2024", date(2024, time.March, 1)},
		{"2024-03-01", date(2024, time.March, 1)},
		{"2024-3-1", date(2024, time.March, 1)},
		{"2024/03/01", date(2024, time.March, 1)},
		{"2024-03-01 00:00:00", date(2024, time.March, 1)},
		{"01/03/24", date(2024, time.March, 1)},
		{"1-3-24", date(2024, time.March, 1)},
		{"  15/08/2023  ", date(2023, time.August, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Normalize(tt.raw, false)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_AmbiguousIsDayFirst(t *testing.T) {
	for _, allow := range []bool{false, true} {
		got, ok := Normalize("01/02/2024", allow)
		require.True(t, ok)
		assert.Equal(t, 1, got.Day())
		assert.Equal(t, time.February, got.Month())
	}
}

func TestNormalize_MonthFirstFallbackOnly(t *testing.T) {
	_, ok := Normalize("12/25/2024", false)
	assert.False(t, ok, "month-first must not be tried without the flag")

	got, ok := Normalize("12/25/2024", true)
	require.True(t, ok)
	assert.Equal(t, date(2024, time.December, 25), got)

	got, ok = Normalize("02-13-24", true)
	require.True(t, ok)
	assert.Equal(t, date(2024, time.February, 13), got)
}

func TestNormalize_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a date", "31/02/2024", "2024-13-01", "13/13/2024"} {
		_, ok := Normalize(raw, true)
		assert.False(t, ok, raw)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	first, _ := Normalize("05/06/2024", true)
	for range 10 {
		again, _ := Normalize("05/06/2024", true)
		assert.Equal(t, first, again)
	}
}

func TestFormatters(t *testing.T) {
	d := date(2024, time.March, 1)
	assert.Equal(t, "2024-03-01 00:00:00", Format(d))
	assert.Equal(t, "2024-03-01T00:00:00.000Z", ISOMillis(d))
	assert.Equal(t, "2024-03-01T00:00:00+00:00", ISOOffset(d))
	assert.Equal(t, "2024-03-01", Day(d))
}
