package enrolment

import (
	"context"
	"fmt"
	"maps"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/dates"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/resolve"
	"github.com/pithecene-io/lmsmig/types"
)

// Input columns.
const (
	ColEmail     = "email"
	ColGroup     = "Groupe"
	ColCodes     = "Codes"
	ColCompleted = "cours complétés le"
)

// Results columns.
const (
	ColUserID      = "userId"
	ColUserName    = "userName"
	ColProfileCode = "learnerProfileCode"
	ColCourseCode  = "courseCode"
	ColCourseID    = "courseId"
	ColCourseName  = "courseName"
	ColBatchName   = "batchName"
	ColBatchID     = "batchId"
	ColCompletedOn = "completedOn"
)

// ResultsHeader is the results CSV header, in file order.
var ResultsHeader = []string{
	ColEmail, ColUserID, ColUserName, ColProfileCode, ColCourseCode,
	ColCourseID, ColCourseName, ColBatchName, ColBatchID, ColCompletedOn,
}

// InputSchema is the operator input schema. A row lists parallel
// comma-separated course codes and completion dates and fans out into one
// record per code.
func InputSchema() csvload.Schema {
	return csvload.Schema{
		Name:       Name,
		Required:   []string{ColEmail, ColGroup, ColCodes, ColCompleted},
		DateColumn: ColCompleted,
		UniqueKey:  []string{ColEmail, ColCodes},
		Keys: map[types.KeyKind]string{
			types.KeyUser:   ColEmail,
			types.KeyCourse: ColCodes,
		},
		Expand: expand,
	}
}

func expand(row csvload.Row) ([]csvload.Row, error) {
	codes := csvload.SplitList(row.Fields[ColCodes])
	completed := csvload.SplitList(row.Fields[ColCompleted])
	if len(codes) != len(completed) {
		return nil, fmt.Errorf("%w: %d codes, %d dates", csvload.ErrMismatch, len(codes), len(completed))
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("row %d lists no course codes", row.Index)
	}

	// A lone date is unambiguous enough to allow month-first.
	monthFirst := row.AllowMonthFirst || len(codes) == 1
	// One bad date rejects the whole row.
	for _, c := range completed {
		if _, ok := dates.Normalize(c, monthFirst); !ok {
			return nil, &types.ValidationError{Row: row.Index, Field: ColCompleted, Value: c, Reason: types.SkipInvalidDate}
		}
	}

	out := make([]csvload.Row, len(codes))
	for i := range codes {
		fields := maps.Clone(row.Fields)
		fields[ColCodes] = codes[i]
		fields[ColCompleted] = completed[i]
		out[i] = csvload.Row{
			Index:           row.Index,
			Fields:          fields,
			AllowMonthFirst: monthFirst,
		}
	}
	return out, nil
}

// BatchName is the name of the batch a learner profile group follows for
// a course.
func BatchName(courseCode, group string) string {
	return courseCode + "_" + group
}

// Resolver builds the generate lookups: user by email, course by code,
// then batch by name once the course resolved.
func (m *Migration) Resolver(env *migration.Env) (*resolve.Resolver, error) {
	if m.opts.Client == nil {
		return nil, errNoClient
	}
	c := m.opts.Client
	return resolve.New(env.Logger, env.Collector).
		Register(types.KeyUser, c.FindUser).
		Register(types.KeyCourse, c.FindCourse).
		RegisterDependent(types.KeyBatch, types.KeyCourse,
			func(rec types.Record, _ map[types.KeyKind]types.Identifier) string {
				return BatchName(rec.Field(ColCodes), rec.Field(ColGroup))
			},
			c.FindBatch), nil
}

// Generate resolves every input record and writes the fully resolved ones
// to output. Lookups are read-only and run in dry runs too.
func (m *Migration) Generate(ctx context.Context, env *migration.Env, input, output string) (*migration.Result, error) {
	resolver, err := m.Resolver(env)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, types.Fatalf("enrolment generate: an output path is required")
	}

	loaded, err := env.Load(ctx, input, InputSchema())
	if err != nil {
		return nil, err
	}

	run, err := env.Run(ctx, loaded.Records, resolver, nil)
	if err != nil {
		return nil, err
	}

	table := &csvload.Table{Header: ResultsHeader}
	for _, o := range run.Done() {
		table.Append(resultRow(o.Record))
	}
	if err := table.WriteFile(output); err != nil {
		return nil, fmt.Errorf("write results: %w", err)
	}

	missing := resolver.Missing()
	fields := map[string]any{
		"output":  output,
		"records": len(table.Rows),
	}
	for kind, keys := range missing {
		fields["missing_"+string(kind)] = len(keys)
	}
	for kind, n := range resolver.Calls() {
		fields["lookups_"+string(kind)] = n
	}
	env.Log().Info("results written", fields)

	return &migration.Result{
		Input:   input,
		Skips:   loaded.Skipped,
		Run:     run,
		Missing: missing,
		Outputs: []string{output},
	}, nil
}

func resultRow(rec *types.ResolvedRecord) map[string]string {
	return map[string]string{
		ColEmail:       rec.Field(ColEmail),
		ColUserID:      rec.ID(types.KeyUser),
		ColUserName:    rec.Name(types.KeyUser),
		ColProfileCode: rec.Field(ColGroup),
		ColCourseCode:  rec.Field(ColCodes),
		ColCourseID:    rec.ID(types.KeyCourse),
		ColCourseName:  rec.Name(types.KeyCourse),
		ColBatchName:   rec.Keys[types.KeyBatch],
		ColBatchID:     rec.ID(types.KeyBatch),
		ColCompletedOn: dates.Format(rec.Date),
	}
}
