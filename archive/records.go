package archive

import (
	"time"

	"github.com/pithecene-io/lmsmig/dates"
	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/types"
)

// Record kinds, also the last partition key.
const (
	RecordKindStep   = "step"
	RecordKindReport = "report"
)

// Partition keys of the Hive layout, outermost first.
var partitionKeys = []string{"migration", "day", "run_id", "record_kind"}

// DeriveDay computes the partition day from the run start time (UTC).
func DeriveDay(start time.Time) string {
	return dates.Day(start.UTC())
}

// stepRecord converts one step result into the stored map. Lode's Hive
// layout reads partition values from the record fields.
func stepRecord(cfg Config, rec *types.ResolvedRecord, r types.StepResult, ts time.Time) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindStep,
		"migration":   cfg.Migration,
		"phase":       cfg.Phase,
		"day":         cfg.Day,
		"run_id":      cfg.RunID,
		"ts":          ts.UTC().Format(time.RFC3339Nano),
		"row":         rec.Row,
		"record":      rec.Label(),
		"step":        r.Step,
		"backend":     string(r.Backend),
		"status":      string(r.Status),
		"dry_run":     r.DryRun,
		"attempts":    r.Attempts,
		"duration_ms": r.Duration.Milliseconds(),
		"request":     r.Request.String(),
	}
	if r.Response.Status != 0 {
		m["response_status"] = r.Response.Status
	}
	if r.Err != nil {
		m["error"] = r.Err.Error()
	}
	return m
}

// reportRecord wraps a run report for storage.
func reportRecord(cfg Config, rep *report.RunReport, ts time.Time) map[string]any {
	return map[string]any{
		"record_kind": RecordKindReport,
		"migration":   cfg.Migration,
		"phase":       cfg.Phase,
		"day":         cfg.Day,
		"run_id":      cfg.RunID,
		"ts":          ts.UTC().Format(time.RFC3339Nano),
		"report":      rep,
	}
}
