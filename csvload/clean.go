package csvload

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const bom = "\ufeff"

// nbspReplacer maps the no-break spaces spreadsheet exports leave behind to
// plain spaces.
var nbspReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2007", " ")

// CleanCell normalizes one CSV cell: NFC form, no-break spaces folded to
// spaces, surrounding whitespace and a leading BOM removed.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, bom)
	s = norm.NFC.String(s)
	s = nbspReplacer.Replace(s)
	return strings.TrimSpace(s)
}

// HeaderIndex maps a cleaned column name to its position.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header row. Matching is
// case-insensitive; the first occurrence of a repeated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// Lookup returns the position of column name.
func (h HeaderIndex) Lookup(name string) (int, bool) {
	i, ok := h[strings.ToLower(CleanCell(name))]
	return i, ok
}

// SplitList splits a comma-separated cell into cleaned, non-empty items.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = CleanCell(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
