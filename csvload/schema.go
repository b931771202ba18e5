package csvload

import (
	"errors"
	"strings"

	"github.com/pithecene-io/lmsmig/types"
)

// DefaultProgressEvery is the row interval between progress log entries.
const DefaultProgressEvery = 100

// ErrMismatch is returned by an Expand func when a row's parallel lists
// have different lengths.
var ErrMismatch = errors.New("mismatched list lengths")

// Row is one input line after cell cleanup.
type Row struct {
	// Index is the 1-based data row index (header excluded).
	Index int
	// Fields maps the schema's column names to cleaned values.
	Fields map[string]string
	// AllowMonthFirst enables the month-first date fallback for this row.
	AllowMonthFirst bool
}

// Schema describes how rows of one input file become records.
type Schema struct {
	// Name labels progress logs.
	Name string
	// Columns lists every column copied into Record.Fields. Required
	// columns are added implicitly.
	Columns []string
	// Required columns must be present in the header and non-empty in a row.
	Required []string
	// DateColumn is parsed with the date normalizer when set.
	DateColumn string
	// AllowMonthFirst enables the month-first fallback for every row.
	AllowMonthFirst bool
	// UniqueKey lists the columns forming the deduplication key.
	UniqueKey []string
	// Keys maps each business key kind to the column holding it.
	Keys map[types.KeyKind]string
	// Expand optionally fans one row out into several. Returning
	// ErrMismatch skips the row as mismatched list lengths; returning a
	// *types.ValidationError skips it with the error's reason.
	Expand func(Row) ([]Row, error)
	// ProgressEvery overrides DefaultProgressEvery.
	ProgressEvery int
	// Headers maps a schema column to the file header it is read from,
	// for inputs whose headers differ from the canonical names.
	Headers map[string]string
}

// header returns the file header holding column.
func (s Schema) header(column string) string {
	if h, ok := s.Headers[column]; ok && h != "" {
		return h
	}
	return column
}

func (s Schema) columns() []string {
	seen := make(map[string]bool, len(s.Columns)+len(s.Required))
	out := make([]string, 0, len(s.Columns)+len(s.Required))
	for _, group := range [][]string{s.Required, s.Columns} {
		for _, c := range group {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func (s Schema) progressEvery() int {
	if s.ProgressEvery > 0 {
		return s.ProgressEvery
	}
	return DefaultProgressEvery
}

func (s Schema) uniqueKey(fields map[string]string) string {
	if len(s.UniqueKey) == 0 {
		return ""
	}
	parts := make([]string, len(s.UniqueKey))
	for i, c := range s.UniqueKey {
		parts[i] = fields[c]
	}
	return strings.Join(parts, "|")
}
