package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/types"
)

// sharedFactory hands the same store to the write and read paths.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) {
		return store, nil
	}
}

// failingStore rejects every Put.
type failingStore struct {
	putErr   error
	putPaths []string
}

func (s *failingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.putPaths = append(s.putPaths, path)
	return s.putErr
}

func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not found")
}

func (s *failingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (s *failingStore) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *failingStore) Delete(context.Context, string) error { return nil }

func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func testConfig(runID string) Config {
	return Config{
		Migration: "enrolment",
		Phase:     "update",
		Day:       "2026-10-19",
		RunID:     runID,
	}
}

func testResult(step string, ok bool) types.StepResult {
	r := types.StepResult{
		Step:     step,
		Backend:  types.BackendCQL,
		Status:   types.StepSucceeded,
		Attempts: 1,
		Request:  types.Request{Backend: types.BackendCQL, Method: "EXEC", Target: "UPDATE enrolments"},
	}
	if !ok {
		r.Status = types.StepFailed
		r.Err = &types.StepFailure{Step: step, Backend: types.BackendCQL, Err: types.ErrNotApplied}
	}
	return r
}

func testRecord(row int) *types.ResolvedRecord {
	return types.Passthrough(types.Record{Row: row, UniqueKey: "u-1|do_1"})
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Migration: "enrolment"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing partition keys")
	}
	if !strings.Contains(err.Error(), "day, run_id") {
		t.Errorf("error = %v, want missing day and run_id", err)
	}

	cfg = testConfig("run-1")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestDeriveDay(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	if got := DeriveDay(ts); got != "2026-03-01" {
		t.Errorf("DeriveDay() = %q, want 2026-03-01", got)
	}
}

func TestArchive_StepsRoundTrip(t *testing.T) {
	store := lode.NewMemory()
	c := metrics.NewCollector("enrolment", "update", "run-1", false)
	a, err := New(testConfig("run-1"), sharedFactory(store), nil, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.Observe(testRecord(1), testResult("update-enrolment", true))
	a.Observe(testRecord(2), testResult("update-enrolment", false))
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	steps, err := r.Steps(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("Steps() = %d records, want 2", len(steps))
	}
	if steps[0]["status"] != string(types.StepSucceeded) {
		t.Errorf("first status = %v", steps[0]["status"])
	}
	if steps[1]["status"] != string(types.StepFailed) {
		t.Errorf("second status = %v", steps[1]["status"])
	}
	if msg, _ := steps[1]["error"].(string); !strings.Contains(msg, "not applied") {
		t.Errorf("second error = %v", steps[1]["error"])
	}
	if steps[0]["request"] != "EXEC UPDATE enrolments" {
		t.Errorf("request = %v", steps[0]["request"])
	}

	if got := c.Snapshot().ArchiveWriteSuccess; got != 1 {
		t.Errorf("ArchiveWriteSuccess = %d, want 1", got)
	}
}

func TestArchive_FlushThreshold(t *testing.T) {
	store := lode.NewMemory()
	cfg := testConfig("run-2")
	cfg.FlushEvery = 2
	c := metrics.NewCollector("enrolment", "update", "run-2", false)
	a, err := New(cfg, sharedFactory(store), nil, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.Observe(testRecord(1), testResult("s", true))
	if got := c.Snapshot().ArchiveWriteSuccess; got != 0 {
		t.Errorf("flushed before threshold: %d writes", got)
	}
	a.Observe(testRecord(2), testResult("s", true))
	if got := c.Snapshot().ArchiveWriteSuccess; got != 1 {
		t.Errorf("ArchiveWriteSuccess = %d after threshold, want 1", got)
	}

	// Nothing pending: Close writes nothing.
	_ = a.Close()
	if got := c.Snapshot().ArchiveWriteSuccess; got != 1 {
		t.Errorf("ArchiveWriteSuccess = %d after Close, want 1", got)
	}
}

func TestArchive_LatestReport(t *testing.T) {
	store := lode.NewMemory()
	factory := sharedFactory(store)

	for _, runID := range []string{"run-a", "run-b"} {
		c := metrics.NewCollector("enrolment", "update", runID, false)
		c.AddRowsSeen(3)
		a, err := New(testConfig(runID), factory, nil, c)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		a.WriteReport(t.Context(), report.Build(report.Input{Snapshot: c.Snapshot()}))
	}

	r, err := NewReader(DefaultDataset, factory)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	latest, err := r.LatestReport(t.Context(), "")
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if latest.RunID != "run-b" {
		t.Errorf("latest RunID = %q, want run-b", latest.RunID)
	}

	first, err := r.LatestReport(t.Context(), "run-a")
	if err != nil {
		t.Fatalf("LatestReport(run-a): %v", err)
	}
	if first.RunID != "run-a" || first.Rows.Seen != 3 {
		t.Errorf("run-a report = %+v", first)
	}

	_, err = r.LatestReport(t.Context(), "run-zzz")
	if !errors.Is(err, ErrNoReport) {
		t.Errorf("unknown run err = %v, want ErrNoReport", err)
	}
}

func TestArchive_WriteFailureIsNotFatal(t *testing.T) {
	store := &failingStore{putErr: errors.New("no space left on device")}
	var buf bytes.Buffer
	c := metrics.NewCollector("enrolment", "update", "run-3", false)
	a, err := New(testConfig("run-3"), sharedFactory(store), log.Nop().WithOutput(&buf), c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.Observe(testRecord(1), testResult("s", true))
	a.Flush(t.Context())

	if got := c.Snapshot().ArchiveWriteFailure; got != 1 {
		t.Errorf("ArchiveWriteFailure = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "archive write failed") {
		t.Errorf("warning missing from log:\n%s", buf.String())
	}
}

func TestArchive_PutFile(t *testing.T) {
	store := &failingStore{}
	c := metrics.NewCollector("enrolment", "update", "run-5", false)
	a, err := New(testConfig("run-5"), sharedFactory(store), nil, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.PutFile(t.Context(), "results.csv", []byte("a,b\n")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	want := "datasets/lmsmig/partitions/migration=enrolment/day=2026-10-19/run_id=run-5/files/results.csv"
	if len(store.putPaths) != 1 || store.putPaths[0] != want {
		t.Errorf("put paths = %v, want [%s]", store.putPaths, want)
	}

	for _, name := range []string{"", "../x.csv", "a/b.csv", `a\b.csv`} {
		if err := a.PutFile(t.Context(), name, nil); err == nil {
			t.Errorf("PutFile(%q) = nil, want error", name)
		}
	}

	store.putErr = errors.New("AccessDenied: not allowed")
	err = a.PutFile(t.Context(), "input.csv", nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("PutFile err = %v, want ErrPermissionDenied", err)
	}
	snap := c.Snapshot()
	if snap.ArchiveWriteSuccess != 1 || snap.ArchiveWriteFailure != 1 {
		t.Errorf("archive counters = %d/%d, want 1/1", snap.ArchiveWriteSuccess, snap.ArchiveWriteFailure)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"open /data: permission denied", ErrPermissionDenied},
		{"NoSuchBucket: the bucket does not exist", ErrNotFound},
		{"write: no space left on device", ErrDiskFull},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"InvalidAccessKeyId", ErrAuth},
		{"dial tcp 10.0.0.1:9000: connection refused", ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := wrap("write", "p", errors.New(tt.msg))
			if !errors.Is(err, tt.want) {
				t.Errorf("wrap(%q) kind = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}

	if wrap("x", "y", nil) != nil {
		t.Error("wrap(nil) should be nil")
	}
	var se *StorageError
	if !errors.As(wrap("put", "a/b", errors.New("boom")), &se) || se.Op != "put" || se.Path != "a/b" {
		t.Errorf("StorageError fields = %+v", se)
	}
}

func TestParseS3Path(t *testing.T) {
	b, p := ParseS3Path("bucket/runs/prod")
	if b != "bucket" || p != "runs/prod" {
		t.Errorf("ParseS3Path = %q %q", b, p)
	}
	b, p = ParseS3Path("bucket")
	if b != "bucket" || p != "" {
		t.Errorf("ParseS3Path = %q %q", b, p)
	}
}

func TestNewFactory_Validation(t *testing.T) {
	ctx := t.Context()
	if _, err := NewFactory(ctx, StorageConfig{Backend: "gcs", Path: "x"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewFactory(ctx, StorageConfig{Backend: BackendFS}); err == nil {
		t.Error("expected error for empty fs path")
	}
	if _, err := NewFactory(ctx, StorageConfig{Backend: BackendS3}); err == nil {
		t.Error("expected error for missing bucket")
	}
	if _, err := NewFactory(ctx, StorageConfig{Backend: BackendFS, Path: t.TempDir()}); err != nil {
		t.Errorf("fs factory: %v", err)
	}
}
