// Package report aggregates a finished run into a RunReport, emits the
// operator summary lines and writes the JSON report file.
//
// Reporting never fails a run: write errors are returned to the caller,
// which logs them and keeps its exit code.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pithecene-io/lmsmig/iox"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/runner"
	"github.com/pithecene-io/lmsmig/types"
)

// Outcome is the overall result of a run.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeWithFailures Outcome = "completed_with_failures"
	OutcomeCanceled     Outcome = "canceled"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Migration  string    `json:"migration"`
	Phase      string    `json:"phase,omitempty"`
	DryRun     bool      `json:"dry_run"`
	Input      string    `json:"input,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	Rows    ReportRows    `json:"rows"`
	Records ReportRecords `json:"records"`
	Steps   ReportSteps   `json:"steps"`

	// MissingKeys lists the unresolved business keys per key kind, sorted.
	MissingKeys map[string][]string `json:"missing_keys,omitempty"`
	// Failures lists every failed step with its request context.
	Failures []ReportFailure `json:"failures,omitempty"`

	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportRows holds loader counts.
type ReportRows struct {
	Seen     int64            `json:"seen"`
	Skipped  int64            `json:"skipped"`
	ByReason map[string]int64 `json:"by_reason,omitempty"`
	Skips    []types.Skip     `json:"skips,omitempty"`
}

// ReportRecords holds runner counts.
type ReportRecords struct {
	Total   int   `json:"total"`
	Done    int   `json:"done"`
	Skipped int   `json:"skipped"`
	Pending int   `json:"pending"`
	Missing int64 `json:"missing_identifiers"`
	Windows int   `json:"windows"`
}

// ReportSteps holds sequencer counts.
type ReportSteps struct {
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	DryRun    int64            `json:"dry_run"`
	ByStepOK  map[string]int64 `json:"succeeded_by_step,omitempty"`
	ByStepErr map[string]int64 `json:"failed_by_step,omitempty"`
}

// ReportFailure is one failed step.
type ReportFailure struct {
	Row     int    `json:"row"`
	Record  string `json:"record"`
	Step    string `json:"step"`
	Backend string `json:"backend"`
	Status  int    `json:"status,omitempty"`
	Request string `json:"request"`
	Error   string `json:"error"`
}

// Input is everything a report is built from. Run and Skips may be nil
// for phases that do not go through the runner.
type Input struct {
	Input     string
	StartedAt time.Time
	Skips     []types.Skip
	Run       *runner.Result
	Missing   map[types.KeyKind][]string
	Snapshot  metrics.Snapshot
	ExitCode  int
}

// Build composes a RunReport.
func Build(in Input) *RunReport {
	snap := in.Snapshot
	r := &RunReport{
		RunID:     snap.RunID,
		Migration: snap.Migration,
		Phase:     snap.Phase,
		DryRun:    snap.DryRun,
		Input:     in.Input,
		Outcome:   OutcomeCompleted,
		ExitCode:  in.ExitCode,
		StartedAt: in.StartedAt.UTC(),
		Rows: ReportRows{
			Seen:     snap.RowsSeen,
			Skipped:  snap.RowsSkipped,
			ByReason: snap.SkippedByReason,
			Skips:    in.Skips,
		},
		Records: ReportRecords{Missing: snap.RecordsMissing},
		Steps: ReportSteps{
			Succeeded: snap.StepsSucceeded,
			Failed:    snap.StepsFailed,
			DryRun:    snap.StepsDryRun,
			ByStepOK:  snap.SucceededByStep,
			ByStepErr: snap.FailedByStep,
		},
		Metrics: &snap,
	}
	if !in.StartedAt.IsZero() {
		r.DurationMs = time.Since(in.StartedAt).Milliseconds()
	}

	if len(in.Missing) > 0 {
		r.MissingKeys = make(map[string][]string, len(in.Missing))
		for kind, keys := range in.Missing {
			r.MissingKeys[string(kind)] = slices.Sorted(slices.Values(keys))
		}
	}

	if run := in.Run; run != nil {
		r.Records.Total = len(run.Outcomes) + run.Pending
		r.Records.Done = len(run.Done())
		r.Records.Skipped = len(run.Skipped())
		r.Records.Pending = run.Pending
		r.Records.Windows = run.Windows
		if run.Duration > 0 && in.StartedAt.IsZero() {
			r.DurationMs = run.Duration.Milliseconds()
		}
		r.Failures = failures(run.Outcomes)
		if run.Canceled {
			r.Outcome = OutcomeCanceled
		}
	}
	if r.Outcome == OutcomeCompleted && r.Steps.Failed > 0 {
		r.Outcome = OutcomeWithFailures
	}
	return r
}

func failures(outcomes []types.RecordOutcome) []ReportFailure {
	var out []ReportFailure
	for _, o := range outcomes {
		for _, s := range o.Steps {
			if s.OK() {
				continue
			}
			f := ReportFailure{
				Row:     o.Row,
				Record:  o.Label,
				Step:    s.Step,
				Backend: string(s.Backend),
				Request: s.Request.String(),
			}
			if s.Err != nil {
				f.Error = s.Err.Error()
			}
			var sf *types.StepFailure
			if errors.As(s.Err, &sf) {
				f.Status = sf.Status
			}
			out = append(out, f)
		}
	}
	return out
}

// Lines returns the operator summary: one line per category followed by
// indented per-reason, per-kind and per-step detail.
func Lines(r *RunReport) []string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }

	add("rows skipped: %d", r.Rows.Skipped)
	for _, k := range sortedKeys(r.Rows.ByReason) {
		add("  %s: %d", k, r.Rows.ByReason[k])
	}

	add("rows missing identifiers: %d", r.Records.Missing)
	kinds := make([]string, 0, len(r.MissingKeys))
	for k := range r.MissingKeys {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		add("  %s (%d): %s", k, len(r.MissingKeys[k]), strings.Join(r.MissingKeys[k], ", "))
	}

	succeeded := "steps succeeded: %d"
	if r.DryRun {
		succeeded = "steps succeeded (dry run): %d"
	}
	add(succeeded, r.Steps.Succeeded)
	for _, k := range sortedKeys(r.Steps.ByStepOK) {
		add("  %s: %d", k, r.Steps.ByStepOK[k])
	}

	add("steps failed: %d", r.Steps.Failed)
	for _, k := range sortedKeys(r.Steps.ByStepErr) {
		add("  %s: %d", k, r.Steps.ByStepErr[k])
	}

	if r.Records.Pending > 0 {
		add("records not started: %d", r.Records.Pending)
	}
	return lines
}

// Log emits the summary lines at info level, and failures at warn level.
func Log(logger *log.Logger, r *RunReport) {
	for _, line := range Lines(r) {
		logger.Info(line, nil)
	}
	if len(r.Failures) > 0 {
		logger.Warn("run finished with step failures", map[string]any{
			"failed":  len(r.Failures),
			"outcome": string(r.Outcome),
		})
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Write writes the report as JSON to path. If path is "-", writes to
// stderr.
func Write(r *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := WriteTo(r, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}
	if err := iox.WriteFileAtomic(path, func(w io.Writer) error { return WriteTo(r, w) }); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// WriteTo writes report JSON to any writer.
func WriteTo(r *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Read loads a report written by Write.
func Read(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
