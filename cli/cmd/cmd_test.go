package cmd

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/archive"
	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/runner"
	"github.com/pithecene-io/lmsmig/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	if !hasFlag(ReadOnlyFlags(), "tui") {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestRunFlags_SharedThenExtra(t *testing.T) {
	flags := RunFlags(inputFlag("input"))
	for _, name := range []string{"config", "dry-run", "batch-size", "batch-delay", "report", "strict", "input"} {
		if !hasFlag(flags, name) {
			t.Errorf("RunFlags missing --%s", name)
		}
	}
	if got := flags[len(flags)-1].Names()[0]; got != "input" {
		t.Errorf("last flag = %q, want input", got)
	}
}

func hasFlag(flags []cli.Flag, name string) bool {
	for _, f := range flags {
		if f.Names()[0] == name {
			return true
		}
	}
	return false
}

func TestCommands_Tree(t *testing.T) {
	want := map[string][]string{
		"course-batch": nil,
		"enrolment":    {"generate", "update", "delete-index", "generate-events", "push-events", "all"},
		"framework":    {"setup", "terms", "associations", "publish", "all"},
		"report":       nil,
		"version":      nil,
	}
	cmds := Commands("abc")
	if len(cmds) != len(want) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(want))
	}
	for _, c := range cmds {
		subs, ok := want[c.Name]
		if !ok {
			t.Errorf("unexpected command %q", c.Name)
			continue
		}
		var got []string
		for _, s := range c.Subcommands {
			got = append(got, s.Name)
		}
		if strings.Join(got, ",") != strings.Join(subs, ",") {
			t.Errorf("%s subcommands = %v, want %v", c.Name, got, subs)
		}
	}
}

// --- Flag precedence ---

// newTestCLIContext builds a *cli.Context where only flagValues are
// explicitly set.
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaults map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range defaults {
		fs.String(name, val, "")
	}
	for name := range flagValues {
		if fs.Lookup(name) == nil {
			fs.String(name, "", "")
		}
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"events": "cli.jsonl"}, nil)
	if got := resolveString(c, "events", "config.jsonl"); got != "cli.jsonl" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"events": ""})
	if got := resolveString(c, "events", "config.jsonl"); got != "config.jsonl" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveInt(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("batch-size", 0, "")
	c := cli.NewContext(app, fs, nil)
	if got := resolveInt(c, "batch-size", 50); got != 50 {
		t.Errorf("expected config fallback 50, got %d", got)
	}
	_ = fs.Set("batch-size", "5")
	if got := resolveInt(c, "batch-size", 50); got != 5 {
		t.Errorf("expected CLI 5 to win, got %d", got)
	}
}

func TestResolveBool_ExplicitFalseWins(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("dry-run", false, "")
	c := cli.NewContext(app, fs, nil)
	if !resolveBool(c, "dry-run", true) {
		t.Error("unset flag should keep the config default")
	}
	_ = fs.Set("dry-run", "false")
	if resolveBool(c, "dry-run", true) {
		t.Error("explicit --dry-run=false should win over config")
	}
}

func TestResolveDuration(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("batch-delay", 0, "")
	c := cli.NewContext(app, fs, nil)
	if got := resolveDuration(c, "batch-delay", time.Second); got != time.Second {
		t.Errorf("expected config fallback 1s, got %v", got)
	}
	_ = fs.Set("batch-delay", "0s")
	if got := resolveDuration(c, "batch-delay", time.Second); got != 0 {
		t.Errorf("expected CLI 0s to win, got %v", got)
	}
}

// --- Exit codes ---

func TestExitCode(t *testing.T) {
	failed := metrics.Snapshot{StepsFailed: 2}
	canceled := &migration.Result{Run: &runner.Result{Canceled: true}}

	tests := []struct {
		name   string
		res    *migration.Result
		snap   metrics.Snapshot
		strict bool
		want   int
	}{
		{"clean", &migration.Result{}, metrics.Snapshot{}, false, exitSuccess},
		{"failures tolerated", &migration.Result{}, failed, false, exitSuccess},
		{"strict failures", &migration.Result{}, failed, true, exitStepFailures},
		{"strict clean", &migration.Result{}, metrics.Snapshot{}, true, exitSuccess},
		{"canceled", canceled, failed, true, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.res, tt.snap, tt.strict); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitFor(t *testing.T) {
	var ec cli.ExitCoder
	if !errors.As(exitFor(types.Fatalf("missing")), &ec) || ec.ExitCode() != exitConfigError {
		t.Errorf("fatal config error should exit %d", exitConfigError)
	}
	if !errors.As(exitFor(errors.New("boom")), &ec) || ec.ExitCode() != exitError {
		t.Errorf("unexpected error should exit %d", exitError)
	}
}

// --- Backend wiring ---

func testConfig(t *testing.T, host string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(configYAML(host, "")), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestBuildAdapters_DryRunSkipsMutationBackends(t *testing.T) {
	cfg := testConfig(t, "http://lms.test")
	p := phase{backends: []types.Backend{types.BackendCQL, types.BackendQueue, types.BackendIndex, types.BackendFile}}

	set, err := buildAdapters(cfg, p, true, filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("buildAdapters: %v", err)
	}
	defer func() { _ = set.Close() }()

	for _, b := range []types.Backend{types.BackendREST, types.BackendIndex} {
		if _, ok := set[b]; !ok {
			t.Errorf("dry run should still build %s", b)
		}
	}
	for _, b := range []types.Backend{types.BackendCQL, types.BackendQueue, types.BackendFile} {
		if _, ok := set[b]; ok {
			t.Errorf("dry run should not build %s", b)
		}
	}
}

func TestBuildAdapters_FileAlways(t *testing.T) {
	cfg := testConfig(t, "http://lms.test")
	events := filepath.Join(t.TempDir(), "out", "events.jsonl")
	set, err := buildAdapters(cfg, phase{backends: []types.Backend{types.BackendFile}, fileAlways: true}, true, events)
	if err != nil {
		t.Fatalf("buildAdapters: %v", err)
	}
	w, ok := set[types.BackendFile].(adapter.WindowAware)
	if !ok {
		t.Fatal("file backend should group writes per window")
	}
	if _, err := os.Stat(events); !os.IsNotExist(err) {
		t.Errorf("events file should not exist before the first window: %v", err)
	}
	if err := w.BeginWindow(context.Background()); err != nil {
		t.Fatalf("BeginWindow: %v", err)
	}
	_ = set.Close()
	if _, err := os.Stat(events); err != nil {
		t.Errorf("events file should be created: %v", err)
	}
}

func TestBuildAdapters_Live(t *testing.T) {
	cfg := testConfig(t, "http://lms.test")
	p := phase{backends: []types.Backend{types.BackendCQL, types.BackendQueue, types.BackendIndex}}
	set, err := buildAdapters(cfg, p, false, "")
	if err != nil {
		t.Fatalf("buildAdapters: %v", err)
	}
	defer func() { _ = set.Close() }()
	if len(set) != 4 {
		t.Errorf("got %d backends, want 4", len(set))
	}
}

func TestNewQueue_UnknownType(t *testing.T) {
	if _, err := newQueue(config.QueueConfig{Type: "sqs"}, time.Second); err == nil {
		t.Error("expected error for unknown queue type")
	}
}

// --- End to end ---

func configYAML(host, archiveDir string) string {
	s := `host: ` + host + `
apikey: key
access_token: user-token
creator_access_token: creator-token
channel_id: "0137"
batch_delay: 1ms
timeout: 2s
log:
  level: error
cassandra:
  hosts: [127.0.0.1]
certificate:
  remove_template_identifier: tmpl_old
  templates:
    tmpl_new:
      identifier: tmpl_new
      name: New certificate
index:
  host: http://es.test:9200
queue:
  type: redis
  url: redis://127.0.0.1:6379/0
`
	if archiveDir != "" {
		s += "archive:\n  backend: fs\n  path: " + archiveDir + "\n"
	}
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestApp wires every command with ExitErrHandler suppressed so errors
// are returned instead of calling os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = Commands("test")
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func exitCodeOf(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func TestExecute_ConfigFileNotFound(t *testing.T) {
	err := newTestApp().Run([]string{"lmsmig", "course-batch",
		"--config", "/nonexistent/lmsmig.yaml",
		"--input", "batches.csv",
	})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error should mention config file not found, got: %v", err)
	}
	if code := exitCodeOf(err); code != exitConfigError {
		t.Errorf("exit code = %d, want %d", code, exitConfigError)
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "host: not a url\n")
	err := newTestApp().Run([]string{"lmsmig", "framework", "setup", "--config", cfg, "--input", "x.csv"})
	if code := exitCodeOf(err); code != exitConfigError {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitConfigError, err)
	}
	if !strings.Contains(err.Error(), "apikey is required") {
		t.Errorf("error should list missing keys, got: %v", err)
	}
}

func TestExecute_MissingInputIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	err := newTestApp().Run([]string{"lmsmig", "course-batch", "--config", cfg, "--input", filepath.Join(dir, "absent.csv")})
	if code := exitCodeOf(err); code != exitConfigError {
		t.Errorf("exit code = %d, want %d (err %v)", code, exitConfigError, err)
	}
}

func TestCourseBatch_DryRunReportAndArchive(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	cfg := writeFile(t, dir, "config.yaml", configYAML(ts.URL, archiveDir))
	input := writeFile(t, dir, "batches.csv", "Course ID,Batch ID,Start Date\ndo_1,b_1,01/02/2024\ndo_2,b_2,not a date\n")
	reportPath := filepath.Join(dir, "report.json")

	err := newTestApp().Run([]string{"lmsmig", "course-batch",
		"--config", cfg,
		"--input", input,
		"--report", reportPath,
		"--strict",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("dry run made %d platform calls", n)
	}

	rep, err := report.Read(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !rep.DryRun || rep.Migration != "course-batch" {
		t.Errorf("report identity = %+v", rep)
	}
	if rep.Records.Done != 1 || rep.Rows.Skipped != 1 {
		t.Errorf("records = %+v rows = %+v", rep.Records, rep.Rows)
	}
	if rep.Steps.Succeeded != 4 {
		t.Errorf("dry-run steps = %d, want 4", rep.Steps.Succeeded)
	}

	reader, err := archive.NewReader("", lode.NewFSFactory(archiveDir))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	archived, err := reader.LatestReport(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if archived.RunID != rep.RunID {
		t.Errorf("archived run = %q, want %q", archived.RunID, rep.RunID)
	}
	steps, err := reader.Steps(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 4 {
		t.Errorf("archived %d steps, want 4", len(steps))
	}
}

const eventTemplate = `{
  "eid": "BE_JOB_REQUEST",
  "mid": "LMS.template",
  "edata": {
    "tag": "",
    "data": [{"recipientName": "", "recipientId": ""}],
    "related": {"type": "course", "batchId": "", "courseId": ""}
  },
  "object": {"id": "", "type": "GenerateCertificate"}
}`

const results = "email,userId,userName,learnerProfileCode,courseCode,courseId,courseName,batchName,batchId,completedOn\n" +
	"ana@x.org,u-1,Ana Lima,G1,C1,do_1,Course One,C1_G1,b_1,2024-03-05 00:00:00\n" +
	"bob@x.org,u-2,Bob,G1,C1,do_1,Course One,C1_G1,b_1,2024-12-31 00:00:00\n"

func TestEnrolmentGenerateEvents_WritesInDryRun(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	tmpl := writeFile(t, dir, "template.json", eventTemplate)
	res := writeFile(t, dir, "results.csv", results)
	events := filepath.Join(dir, "events.jsonl")

	err := newTestApp().Run([]string{"lmsmig", "enrolment", "generate-events",
		"--config", cfg,
		"--output", res,
		"--template", tmpl,
		"--events", events,
		"--dry-run",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(events)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d events, want 2:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"recipientId":"u-1"`) {
		t.Errorf("first event = %s", lines[0])
	}
}

func TestEnrolmentGenerateEvents_TemplateRequired(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	res := writeFile(t, dir, "results.csv", results)

	err := newTestApp().Run([]string{"lmsmig", "enrolment", "generate-events",
		"--config", cfg,
		"--output", res,
		"--events", filepath.Join(dir, "events.jsonl"),
	})
	if code := exitCodeOf(err); code != exitConfigError {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitConfigError, err)
	}
	if !strings.Contains(err.Error(), "event template is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnrolmentGenerateEvents_FailureKeepsPreviousEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	tmpl := writeFile(t, dir, "template.json", eventTemplate)
	events := writeFile(t, dir, "events.jsonl", "{\"mid\":\"LMS.previous\"}\n")

	for name, args := range map[string][]string{
		"missing template": {"--output", writeFile(t, dir, "results.csv", results)},
		"missing results":  {"--output", filepath.Join(dir, "absent.csv"), "--template", tmpl},
	} {
		argv := append([]string{"lmsmig", "enrolment", "generate-events", "--config", cfg, "--events", events, "--dry-run"}, args...)
		if code := exitCodeOf(newTestApp().Run(argv)); code != exitConfigError {
			t.Errorf("%s: exit code = %d, want %d", name, code, exitConfigError)
		}
		data, err := os.ReadFile(events)
		if err != nil {
			t.Fatalf("%s: read events: %v", name, err)
		}
		if string(data) != "{\"mid\":\"LMS.previous\"}\n" {
			t.Errorf("%s: events file rewritten: %q", name, data)
		}
	}
}

func TestEnrolmentUpdate_DryRunNeedsNoCassandra(t *testing.T) {
	dir := t.TempDir()
	// 127.0.0.1 has no cassandra: a live run would fail every statement
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	res := writeFile(t, dir, "results.csv", results)
	reportPath := filepath.Join(dir, "report.json")

	err := newTestApp().Run([]string{"lmsmig", "enrolment", "update",
		"--config", cfg, "--output", res, "--report", reportPath, "--strict",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rep, err := report.Read(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if rep.Steps.Succeeded != 2 || rep.Steps.Failed != 0 {
		t.Errorf("steps = %+v", rep.Steps)
	}
}

// --- report and version ---

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	if err := report.Write(&report.RunReport{RunID: "r-1", Outcome: report.OutcomeCompleted}, path); err != nil {
		t.Fatal(err)
	}

	if err := newTestApp().Run([]string{"lmsmig", "report", "--file", path, "--format", "json"}); err != nil {
		t.Errorf("report --file: %v", err)
	}
	if err := newTestApp().Run([]string{"lmsmig", "report", "--file", path, "--format", "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
	err := newTestApp().Run([]string{"lmsmig", "report", "--file", filepath.Join(dir, "absent.json")})
	if code := exitCodeOf(err); code != exitConfigError {
		t.Errorf("missing report exit code = %d, want %d", code, exitConfigError)
	}
	err = newTestApp().Run([]string{"lmsmig", "report", "--file", path, "--tui", "--view", "bogus"})
	if err == nil || !strings.Contains(err.Error(), "invalid view") {
		t.Errorf("expected invalid view error, got %v", err)
	}
}

func TestReportCommand_NoArchiveConfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", configYAML("http://lms.test", ""))
	err := newTestApp().Run([]string{"lmsmig", "report", "--config", cfg, "--run-id", "r-1"})
	if code := exitCodeOf(err); code != exitConfigError {
		t.Errorf("exit code = %d, want %d (err %v)", code, exitConfigError, err)
	}
}

func TestVersionCommand_RejectsTUI(t *testing.T) {
	err := newTestApp().Run([]string{"lmsmig", "version", "--tui"})
	if err == nil || !strings.Contains(err.Error(), "--tui is not supported") {
		t.Errorf("expected --tui rejection, got %v", err)
	}
}

func TestTUIView(t *testing.T) {
	for in, want := range map[string]string{"": "report_summary", "summary": "report_summary", "failures": "report_failures"} {
		got, err := tuiView(in)
		if err != nil || got != want {
			t.Errorf("tuiView(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
