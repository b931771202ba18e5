// Package dates normalizes heterogeneous date strings from operator CSVs.
//
// Day-first and ISO layouts are always tried first, in a fixed order.
// Month-first layouts are a fallback only, so an ambiguous value such as
// 01/02/2024 always reads as 1 February unless day-first parsing fails.
package dates

import (
	"strings"
	"time"
)

// CanonicalLayout is the text form written to staged output and the database.
const CanonicalLayout = "2006-01-02 00:00:00"

var (
	// dayFirstLayouts are tried in order. Four-digit year layouts precede
	// two-digit ones so "01/02/2024" never matches "2/1/06".
	dayFirstLayouts = []string{
		"2/1/2006", "2-1-2006",
		"2006-1-2", "2006/1/2",
		"2006-1-2 15:04:05",
		"2/1/06", "2-1-06",
	}
	monthFirstLayouts = []string{
		"1/2/2006", "1-2-2006",
		"1/2/06", "1-2-06",
	}
)

// Normalize parses raw and returns its calendar date at midnight UTC.
// It returns false (never an error) when no layout matches; callers treat
// that as a validation failure.
func Normalize(raw string, allowMonthFirst bool) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := parseAny(s, dayFirstLayouts); ok {
		return t, true
	}
	if allowMonthFirst {
		return parseAny(s, monthFirstLayouts)
	}
	return time.Time{}, false
}

// Format renders t in CanonicalLayout.
func Format(t time.Time) string {
	return t.Format(CanonicalLayout)
}

// ISOMillis renders t as 2006-01-02T15:04:05.000Z.
func ISOMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ISOOffset renders t as 2006-01-02T15:04:05+00:00.
func ISOOffset(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05-07:00")
}

// Day renders t as 2006-01-02.
func Day(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseAny(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
