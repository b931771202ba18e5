package csvload

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/pithecene-io/lmsmig/iox"
)

// Table is a header plus rows of cells, written as a results CSV.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds a row built from fields in header order.
func (t *Table) Append(fields map[string]string) {
	row := make([]string, len(t.Header))
	for i, h := range t.Header {
		row[i] = fields[h]
	}
	t.Rows = append(t.Rows, row)
}

// WriteTo writes the table as CSV.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	csvw := csv.NewWriter(cw)
	if err := csvw.Write(t.Header); err != nil {
		return cw.n, err
	}
	for i, row := range t.Rows {
		if err := csvw.Write(row); err != nil {
			return cw.n, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	csvw.Flush()
	return cw.n, csvw.Error()
}

// WriteFile writes the table to path, replacing it only on success.
func (t *Table) WriteFile(path string) error {
	return iox.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := t.WriteTo(w)
		return err
	})
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
