package enrolment

import (
	"context"
	"fmt"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// UpdateSchema reads the results CSV for the enrolment table update.
func UpdateSchema() csvload.Schema {
	return csvload.Schema{
		Name:       Name + "-update",
		Required:   []string{ColUserID, ColCourseID, ColBatchID, ColCompletedOn},
		Columns:    ResultsHeader,
		DateColumn: ColCompletedOn,
		UniqueKey:  []string{ColUserID, ColCourseID, ColBatchID},
	}
}

// Statement returns the conditional enrolment update. IF EXISTS keeps a
// stale results file from creating enrolments.
func (m *Migration) Statement() string {
	return fmt.Sprintf(
		"UPDATE %s.%s SET issued_certificates = null, completedon = ? WHERE userid = ? AND courseid = ? AND batchid = ? IF EXISTS",
		m.opts.Keyspace, m.opts.Table)
}

// UpdatePlan clears the issued certificates of one enrolment and sets its
// completion date.
func (m *Migration) UpdatePlan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	if rec.Date.IsZero() {
		return nil, fmt.Errorf("row %d has no completion date", rec.Row)
	}
	return []sequencer.Step{{
		Name:    StepUpdateEnrolment,
		Backend: types.BackendCQL,
		Candidates: []types.Request{{
			Backend: types.BackendCQL,
			Method:  "EXEC",
			Target:  m.Statement(),
			Args: []any{
				rec.Date.UTC(),
				rec.Field(ColUserID),
				rec.Field(ColCourseID),
				rec.Field(ColBatchID),
			},
		}},
	}}, nil
}

// Update applies the enrolment update to every results row.
func (m *Migration) Update(ctx context.Context, env *migration.Env, results string) (*migration.Result, error) {
	if m.opts.Keyspace == "" || m.opts.Table == "" {
		return nil, errNoTable
	}
	loaded, err := loadResults(ctx, env, results, UpdateSchema())
	if err != nil {
		return nil, err
	}
	run, err := env.Run(ctx, loaded.Records, nil, m.UpdatePlan)
	if err != nil {
		return nil, err
	}
	return &migration.Result{Input: results, Skips: loaded.Skipped, Run: run}, nil
}
