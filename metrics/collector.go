// Package metrics provides per-run counters for a migration run.
//
// The Collector is the RunStats accumulator: owned by the runner,
// incremented as each row and record completes, never decremented, and
// read once by the reporter. It is a leaf package with no internal
// dependencies beyond types.
package metrics

import (
	"maps"
	"sync"

	"github.com/pithecene-io/lmsmig/types"
)

// Snapshot is an immutable point-in-time view of the run counters.
type Snapshot struct {
	// Loader
	RowsSeen        int64            `json:"rows_seen"`
	RowsSkipped     int64            `json:"rows_skipped"`
	SkippedByReason map[string]int64 `json:"skipped_by_reason"`

	// Resolver
	RecordsResolved int64 `json:"records_resolved"`
	RecordsMissing  int64 `json:"records_missing"`

	// Runner
	RecordsDone    int64 `json:"records_done"`
	RecordsSkipped int64 `json:"records_skipped"`
	Windows        int64 `json:"windows"`

	// Sequencer
	StepsSucceeded  int64            `json:"steps_succeeded"`
	StepsFailed     int64            `json:"steps_failed"`
	StepsDryRun     int64            `json:"steps_dry_run"`
	SucceededByStep map[string]int64 `json:"succeeded_by_step"`
	FailedByStep    map[string]int64 `json:"failed_by_step"`

	// Archive
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`

	// Dimensions (informational, set at construction)
	Migration string `json:"migration"`
	Phase     string `json:"phase,omitempty"`
	RunID     string `json:"run_id"`
	DryRun    bool   `json:"dry_run"`
}

// Collector accumulates metrics during a single run.
// All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	rowsSeen        int64
	rowsSkipped     int64
	skippedByReason map[string]int64

	recordsResolved int64
	recordsMissing  int64

	recordsDone    int64
	recordsSkipped int64
	windows        int64

	stepsSucceeded  int64
	stepsFailed     int64
	stepsDryRun     int64
	succeededByStep map[string]int64
	failedByStep    map[string]int64

	archiveWriteSuccess int64
	archiveWriteFailure int64

	migration string
	phase     string
	runID     string
	dryRun    bool
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(migration, phase, runID string, dryRun bool) *Collector {
	return &Collector{
		skippedByReason: make(map[string]int64),
		succeededByStep: make(map[string]int64),
		failedByStep:    make(map[string]int64),
		migration:       migration,
		phase:           phase,
		runID:           runID,
		dryRun:          dryRun,
	}
}

// --- Loader ---

// AddRowsSeen records n input rows read (header excluded).
func (c *Collector) AddRowsSeen(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsSeen += int64(n)
	c.mu.Unlock()
}

// IncRowSkipped records one row skipped by the loader.
func (c *Collector) IncRowSkipped(reason types.SkipReason) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsSkipped++
	c.skippedByReason[string(reason)]++
	c.mu.Unlock()
}

// --- Resolver ---

// IncResolved records a record whose keys all resolved.
func (c *Collector) IncResolved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsResolved++
	c.mu.Unlock()
}

// IncMissing records a record routed to the missing bucket.
func (c *Collector) IncMissing() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsMissing++
	c.mu.Unlock()
}

// --- Runner ---

// IncDone records a record that reached DONE.
func (c *Collector) IncDone() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsDone++
	c.mu.Unlock()
}

// IncSkipped records a record that reached SKIPPED.
func (c *Collector) IncSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsSkipped++
	c.mu.Unlock()
}

// IncWindow records a completed batch window.
func (c *Collector) IncWindow() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.windows++
	c.mu.Unlock()
}

// --- Sequencer ---

// RecordStep records one step result.
func (c *Collector) RecordStep(r types.StepResult) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.OK() {
		c.stepsSucceeded++
		c.succeededByStep[r.Step]++
		if r.DryRun {
			c.stepsDryRun++
		}
		return
	}
	c.stepsFailed++
	c.failedByStep[r.Step]++
}

// --- Archive ---

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
}

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
// Returns a zero Snapshot for a nil receiver.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{
			SkippedByReason: map[string]int64{},
			SucceededByStep: map[string]int64{},
			FailedByStep:    map[string]int64{},
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RowsSeen:            c.rowsSeen,
		RowsSkipped:         c.rowsSkipped,
		SkippedByReason:     maps.Clone(c.skippedByReason),
		RecordsResolved:     c.recordsResolved,
		RecordsMissing:      c.recordsMissing,
		RecordsDone:         c.recordsDone,
		RecordsSkipped:      c.recordsSkipped,
		Windows:             c.windows,
		StepsSucceeded:      c.stepsSucceeded,
		StepsFailed:         c.stepsFailed,
		StepsDryRun:         c.stepsDryRun,
		SucceededByStep:     maps.Clone(c.succeededByStep),
		FailedByStep:        maps.Clone(c.failedByStep),
		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
		Migration:           c.migration,
		Phase:               c.phase,
		RunID:               c.runID,
		DryRun:              c.dryRun,
	}
}
