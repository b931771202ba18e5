// Package render prints run reports and archived steps for the lmsmig CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// --no-color affects table output only. TUI mode keeps its own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/lmsmig/cli/tui"
	"github.com/pithecene-io/lmsmig/report"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Field is one label/value line of a table view.
type Field struct {
	Label string
	Value string
}

// stepColumns are the archived step fields shown as table columns, in
// order. The request line is long and stays in json/yaml output.
var stepColumns = []string{"ts", "row", "record", "step", "backend", "status", "attempts", "response_status", "error"}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// RenderTUI runs the interactive view of a report.
func (r *Renderer) RenderTUI(view string, rep *report.RunReport) error {
	if !tui.IsTUISupported(view) {
		return fmt.Errorf("--tui is not supported for %s", view)
	}
	return tui.Run(view, rep)
}

// RenderFields prints v as json or yaml, or fields as label/value lines
// in table format. Empty values are omitted from the table.
func (r *Renderer) RenderFields(v any, fields []Field) error {
	if r.format != FormatTable {
		return r.encode(v)
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", f.Label, f.Value)
	}
	return w.Flush()
}

// RenderReport outputs a run report. Table format prints the run
// identity, the operator summary lines and one row per failed step;
// json and yaml print the whole report.
func (r *Renderer) RenderReport(rep *report.RunReport) error {
	if r.format != FormatTable {
		return r.encode(rep)
	}

	outcome := string(rep.Outcome)
	if !r.noColor {
		outcome = tui.OutcomeStyle(outcome).Render(outcome)
	}
	err := r.RenderFields(rep, []Field{
		{"run_id", rep.RunID},
		{"migration", rep.Migration},
		{"phase", rep.Phase},
		{"dry_run", fmt.Sprintf("%t", rep.DryRun)},
		{"input", rep.Input},
		{"outcome", outcome},
		{"exit_code", fmt.Sprintf("%d", rep.ExitCode)},
		{"duration_ms", fmt.Sprintf("%d", rep.DurationMs)},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out)
	for _, line := range report.Lines(rep) {
		fmt.Fprintln(r.out, line)
	}

	if len(rep.Failures) == 0 {
		return nil
	}
	fmt.Fprintln(r.out)
	rows := make([][]string, len(rep.Failures))
	for i, f := range rep.Failures {
		status := ""
		if f.Status != 0 {
			status = fmt.Sprintf("%d", f.Status)
		}
		rows[i] = []string{fmt.Sprintf("%d", f.Row), f.Record, f.Step, f.Backend, status, f.Error}
	}
	return r.table([]string{"row", "record", "step", "backend", "status", "error"}, rows)
}

// RenderSteps outputs archived step records, one table row per step.
func (r *Renderer) RenderSteps(steps []map[string]any) error {
	if r.format != FormatTable {
		return r.encode(steps)
	}
	if len(steps) == 0 {
		fmt.Fprintln(r.out, "(no steps)")
		return nil
	}
	rows := make([][]string, len(steps))
	for i, s := range steps {
		row := make([]string, len(stepColumns))
		for j, col := range stepColumns {
			if v, ok := s[col]; ok && v != nil {
				row[j] = fmt.Sprint(v)
			}
		}
		if !r.noColor {
			row[5] = tui.StepStatusStyle(row[5]).Render(row[5])
		}
		rows[i] = row
	}
	return r.table(stepColumns, rows)
}

func (r *Renderer) table(header []string, rows [][]string) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (r *Renderer) encode(v any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
