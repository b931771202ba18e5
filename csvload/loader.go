// Package csvload reads operator CSV files into validated records.
//
// A single bad row never aborts a load: it is skipped with a reason and
// the next row is read. Only an unreadable file, a missing header or a
// header lacking a required column is fatal.
package csvload

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/lmsmig/dates"
	"github.com/pithecene-io/lmsmig/iox"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/types"
)

// Result is the outcome of one load.
type Result struct {
	// Records are the accepted records in input order.
	Records []types.Record
	// Skipped lists every rejected row (or fanned-out item) with its reason.
	Skipped []types.Skip
	// Rows is the number of data rows read (header excluded).
	Rows int
}

// Loader reads CSV input under a Schema.
type Loader struct {
	logger    *log.Logger
	collector *metrics.Collector
}

// NewLoader creates a Loader. Both arguments may be nil.
func NewLoader(logger *log.Logger, collector *metrics.Collector) *Loader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Loader{logger: logger, collector: collector}
}

// Load opens path and reads it under schema.
func (l *Loader) Load(ctx context.Context, path string, schema Schema) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.FatalConfigError{Msg: fmt.Sprintf("cannot open input %s", path), Err: err}
	}
	defer iox.DiscardClose(f)

	return l.Read(ctx, f, schema)
}

// Read reads CSV data from r under schema.
func (l *Loader) Read(ctx context.Context, r io.Reader, schema Schema) (*Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, types.Fatalf("%s: input has no header row", schema.Name)
	}
	if err != nil {
		return nil, &types.FatalConfigError{Msg: schema.Name + ": unreadable header", Err: err}
	}

	hidx := MakeHeaderIndex(header)
	for _, col := range schema.Required {
		if _, ok := hidx.Lookup(schema.header(col)); !ok {
			return nil, types.Fatalf("%s: header is missing required column %q", schema.Name, schema.header(col))
		}
	}

	st := &loadState{
		schema: schema,
		hidx:   hidx,
		cols:   schema.columns(),
		seen:   make(map[string]int),
		result: &Result{},
	}

	every := schema.progressEvery()
	for {
		if err := ctx.Err(); err != nil {
			return st.result, err
		}

		raw, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		st.result.Rows++
		index := st.result.Rows

		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return st.result, &types.FatalConfigError{Msg: schema.Name + ": unreadable input", Err: err}
			}
			l.skip(st, types.Skip{Row: index, Reason: types.SkipMalformed, Detail: pe.Err.Error()})
		} else {
			l.row(st, index, raw)
		}

		if index%every == 0 {
			l.logger.Info("loading rows", map[string]any{
				"schema":   schema.Name,
				"rows":     index,
				"accepted": len(st.result.Records),
				"skipped":  len(st.result.Skipped),
			})
		}
	}

	l.collector.AddRowsSeen(st.result.Rows)
	l.logger.Info("load complete", map[string]any{
		"schema":   schema.Name,
		"rows":     st.result.Rows,
		"accepted": len(st.result.Records),
		"skipped":  len(st.result.Skipped),
	})
	return st.result, nil
}

type loadState struct {
	schema Schema
	hidx   HeaderIndex
	cols   []string
	// seen maps a unique key to the row that first claimed it.
	seen   map[string]int
	result *Result
}

func (l *Loader) row(st *loadState, index int, raw []string) {
	fields := make(map[string]string, len(st.cols))
	for _, c := range st.cols {
		if i, ok := st.hidx.Lookup(st.schema.header(c)); ok && i < len(raw) {
			fields[c] = CleanCell(raw[i])
		} else {
			fields[c] = ""
		}
	}

	for _, c := range st.schema.Required {
		if fields[c] == "" {
			l.reject(st, &types.ValidationError{Row: index, Field: c, Reason: types.SkipMissingFields})
			return
		}
	}

	rows := []Row{{Index: index, Fields: fields, AllowMonthFirst: st.schema.AllowMonthFirst}}
	if st.schema.Expand != nil {
		expanded, err := st.schema.Expand(rows[0])
		if err != nil {
			var ve *types.ValidationError
			switch {
			case errors.As(err, &ve):
				l.reject(st, ve)
			case errors.Is(err, ErrMismatch):
				l.skip(st, types.Skip{Row: index, Reason: types.SkipMismatch, Detail: err.Error()})
			default:
				l.skip(st, types.Skip{Row: index, Reason: types.SkipMalformed, Detail: err.Error()})
			}
			return
		}
		rows = expanded
	}

	for _, r := range rows {
		l.accept(st, r)
	}
}

func (l *Loader) accept(st *loadState, r Row) {
	rec := types.Record{Row: r.Index, Fields: r.Fields}

	if col := st.schema.DateColumn; col != "" {
		d, ok := dates.Normalize(r.Fields[col], r.AllowMonthFirst)
		if !ok {
			l.reject(st, &types.ValidationError{Row: r.Index, Field: col, Value: r.Fields[col], Reason: types.SkipInvalidDate})
			return
		}
		rec.Date = d
	}

	if key := st.schema.uniqueKey(r.Fields); key != "" {
		if first, dup := st.seen[key]; dup {
			l.skip(st, types.Skip{Row: r.Index, Reason: types.SkipDuplicate, Detail: fmt.Sprintf("%s (first seen at row %d)", key, first)})
			return
		}
		st.seen[key] = r.Index
		rec.UniqueKey = key
	}

	if len(st.schema.Keys) > 0 {
		rec.Keys = make(map[types.KeyKind]string, len(st.schema.Keys))
		for kind, col := range st.schema.Keys {
			rec.Keys[kind] = r.Fields[col]
		}
	}

	st.result.Records = append(st.result.Records, rec)
}

// reject skips the row a validation error names. The skip detail is the
// offending value, or the field name when the value is empty.
func (l *Loader) reject(st *loadState, ve *types.ValidationError) {
	detail := ve.Value
	if detail == "" {
		detail = ve.Field
	}
	l.skip(st, types.Skip{Row: ve.Row, Reason: ve.Reason, Detail: detail})
}

func (l *Loader) skip(st *loadState, s types.Skip) {
	st.result.Skipped = append(st.result.Skipped, s)
	l.collector.IncRowSkipped(s.Reason)
	l.logger.Warn("row skipped", map[string]any{
		"schema": st.schema.Name,
		"row":    s.Row,
		"reason": string(s.Reason),
		"detail": s.Detail,
	})
}
