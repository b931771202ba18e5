// Package coursebatch swaps the certificate template of course batches
// and moves their start date.
//
// Per record, in order:
//  1. update-db-start-date: start_date in the course_batch table
//  2. remove-template: detach the old certificate template
//  3. add-template: attach the configured template
//  4. update-start-date: batch update call, trying the millisecond UTC
//     timestamp and then the +00:00 offset form
package coursebatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/dates"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// Name identifies the migration in logs, metrics and reports.
const Name = "course-batch"

// Input columns.
const (
	ColCourseID  = "Course ID"
	ColBatchID   = "Batch ID"
	ColStartDate = "Start Date"
)

// Step names.
const (
	StepUpdateDB        = "update-db-start-date"
	StepRemoveTemplate  = "remove-template"
	StepAddTemplate     = "add-template"
	StepUpdateStartDate = "update-start-date"
)

// Schema is the input CSV schema.
func Schema() csvload.Schema {
	return csvload.Schema{
		Name:       Name,
		Required:   []string{ColCourseID, ColBatchID, ColStartDate},
		DateColumn: ColStartDate,
		UniqueKey:  []string{ColCourseID, ColBatchID},
	}
}

// Options configures the migration.
type Options struct {
	Builder *lms.Builder
	// Template is attached to every batch.
	Template *lms.Template
	// RemoveIdentifier is the template detached first.
	RemoveIdentifier string
	Keyspace         string
	Table            string
}

// Migration builds the per-batch steps.
type Migration struct {
	opts      Options
	statement string
}

// New validates opts and creates the migration.
func New(opts Options) (*Migration, error) {
	switch {
	case opts.Builder == nil:
		return nil, errors.New("course-batch: request builder is required")
	case opts.Template == nil:
		return nil, errors.New("course-batch: certificate template is required")
	case opts.RemoveIdentifier == "":
		return nil, errors.New("course-batch: template identifier to remove is required")
	case opts.Keyspace == "" || opts.Table == "":
		return nil, errors.New("course-batch: keyspace and table are required")
	}
	return &Migration{
		opts:      opts,
		statement: fmt.Sprintf("UPDATE %s.%s SET start_date = ? WHERE courseid = ? AND batchid = ?", opts.Keyspace, opts.Table),
	}, nil
}

// Plan builds the four steps of one batch.
func (m *Migration) Plan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	courseID := rec.Field(ColCourseID)
	batchID := rec.Field(ColBatchID)
	if rec.Date.IsZero() {
		return nil, fmt.Errorf("row %d has no start date", rec.Row)
	}

	remove, err := m.opts.Builder.RemoveTemplate(courseID, batchID, m.opts.RemoveIdentifier)
	if err != nil {
		return nil, err
	}
	add, err := m.opts.Builder.AddTemplate(courseID, batchID, m.opts.Template)
	if err != nil {
		return nil, err
	}
	millis, err := m.opts.Builder.UpdateBatchStartDate(courseID, batchID, dates.ISOMillis(rec.Date))
	if err != nil {
		return nil, err
	}
	offset, err := m.opts.Builder.UpdateBatchStartDate(courseID, batchID, dates.ISOOffset(rec.Date))
	if err != nil {
		return nil, err
	}

	return []sequencer.Step{
		{
			Name:    StepUpdateDB,
			Backend: types.BackendCQL,
			Candidates: []types.Request{{
				Backend: types.BackendCQL,
				Method:  "EXEC",
				Target:  m.statement,
				Args:    []any{rec.Date.UTC(), courseID, batchID},
			}},
		},
		{Name: StepRemoveTemplate, Backend: types.BackendREST, Candidates: []types.Request{remove}},
		{Name: StepAddTemplate, Backend: types.BackendREST, Candidates: []types.Request{add}},
		{Name: StepUpdateStartDate, Backend: types.BackendREST, Candidates: []types.Request{millis, offset}},
	}, nil
}

// Run loads input and applies the steps to every batch.
func (m *Migration) Run(ctx context.Context, env *migration.Env, input string) (*migration.Result, error) {
	loaded, err := env.Load(ctx, input, Schema())
	if err != nil {
		return nil, err
	}
	env.Log().Info("course batches loaded", map[string]any{
		"input":   input,
		"records": len(loaded.Records),
		"skipped": len(loaded.Skipped),
	})

	run, err := env.Run(ctx, loaded.Records, nil, m.Plan)
	if err != nil {
		return nil, err
	}
	return &migration.Result{Input: input, Skips: loaded.Skipped, Run: run}, nil
}
