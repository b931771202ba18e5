// Package runner drives records through resolution and mutation in
// fixed-size windows.
//
// Execution flow per window:
//  1. Begin the window on every window-aware backend (live runs only)
//  2. For each record: resolve, plan, apply steps
//  3. End the window
//  4. Sleep the configured delay unless this was the last window
//
// Records are processed one at a time in input order. A record reaches
// DONE once the sequencer returned, whatever its step outcomes; it reaches
// SKIPPED when a key did not resolve or its plan could not be built.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/resolve"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultBatchSize is the window size when none is configured.
const DefaultBatchSize = 50

// Resolver maps a record's business keys to identifiers.
type Resolver interface {
	Resolve(ctx context.Context, rec types.Record) (*types.ResolvedRecord, *resolve.Partial)
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RunConfig configures a Runner.
type RunConfig struct {
	// BatchSize is the number of records per window.
	BatchSize int
	// Delay is the pause between windows (not after the last one).
	Delay time.Duration
	// DryRun logs requests instead of dispatching them.
	DryRun bool
	// Resolver resolves keys. If nil, records pass through unresolved.
	Resolver Resolver
	// Plan builds each record's steps. If nil, records reach DONE with no
	// steps (lookup-only runs).
	Plan sequencer.Plan
	// Sequencer applies steps. Required when Plan is set.
	Sequencer *sequencer.Sequencer
	// Adapters receive window boundaries. May be nil.
	Adapters adapter.Set
	// Logger may be nil.
	Logger *log.Logger
	// Collector may be nil.
	Collector *metrics.Collector
	// Sleep overrides the inter-window wait (for tests).
	Sleep SleepFunc
}

// Result is the accounting of one run.
type Result struct {
	// Outcomes holds one entry per processed record, in input order.
	Outcomes []types.RecordOutcome
	// Windows is the number of windows started.
	Windows int
	// Pending is the number of records never started because the run was
	// canceled.
	Pending int
	// Canceled reports that the root context ended the run early.
	Canceled bool
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Done returns the outcomes that reached DONE.
func (r *Result) Done() []types.RecordOutcome {
	return r.filter(types.StateDone)
}

// Skipped returns the outcomes that reached SKIPPED.
func (r *Result) Skipped() []types.RecordOutcome {
	return r.filter(types.StateSkipped)
}

func (r *Result) filter(state types.RecordState) []types.RecordOutcome {
	var out []types.RecordOutcome
	for _, o := range r.Outcomes {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out
}

// FailedSteps returns the number of failed steps across all records.
func (r *Result) FailedSteps() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Failed()
	}
	return n
}

// Runner executes one migration run.
type Runner struct {
	config RunConfig
	logger *log.Logger
}

// New creates a Runner.
func New(config RunConfig) (*Runner, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Delay < 0 {
		return nil, fmt.Errorf("batch delay must not be negative, got %s", config.Delay)
	}
	if config.Plan != nil && config.Sequencer == nil {
		return nil, errors.New("a plan requires a sequencer")
	}
	if config.Sleep == nil {
		config.Sleep = sleep
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{config: config, logger: logger}, nil
}

// Run processes records in windows. It never returns an error: record and
// step failures are carried by the outcomes, and cancellation by
// Result.Canceled.
func (r *Runner) Run(ctx context.Context, records []types.Record) *Result {
	start := time.Now()
	res := &Result{Outcomes: make([]types.RecordOutcome, 0, len(records))}
	size := r.config.BatchSize
	total := (len(records) + size - 1) / size

	r.logger.Info("starting run", map[string]any{
		"records":    len(records),
		"windows":    total,
		"batch_size": size,
		"delay_ms":   r.config.Delay.Milliseconds(),
	})

	for w := 0; w < total; w++ {
		lo := w * size
		if ctx.Err() != nil {
			res.Canceled = true
			res.Pending = len(records) - lo
			break
		}

		hi := min(lo+size, len(records))
		res.Windows++
		r.window(ctx, w+1, records[lo:hi], res)
		r.config.Collector.IncWindow()

		if ctx.Err() != nil {
			res.Canceled = true
			res.Pending = len(records) - len(res.Outcomes)
			break
		}
		if w < total-1 && r.config.Delay > 0 {
			if err := r.config.Sleep(ctx, r.config.Delay); err != nil {
				res.Canceled = true
				res.Pending = len(records) - hi
				break
			}
		}
	}

	res.Duration = time.Since(start)
	fields := map[string]any{
		"windows":      res.Windows,
		"done":         len(res.Done()),
		"skipped":      len(res.Skipped()),
		"failed_steps": res.FailedSteps(),
		"duration_ms":  res.Duration.Milliseconds(),
	}
	if res.Canceled {
		fields["pending"] = res.Pending
		r.logger.Warn("run canceled", fields)
	} else {
		r.logger.Info("run complete", fields)
	}
	return res
}

func (r *Runner) window(ctx context.Context, n int, batch []types.Record, res *Result) {
	var aware []adapter.WindowAware
	if !r.config.DryRun {
		aware = r.config.Adapters.WindowAware()
	}
	for _, a := range aware {
		if err := a.BeginWindow(ctx); err != nil {
			r.logger.Error("failed to begin window", map[string]any{"window": n, "error": err.Error()})
		}
	}

	for _, rec := range batch {
		if ctx.Err() != nil {
			break
		}
		out := r.record(ctx, rec)
		if !out.State.IsTerminal() {
			break
		}
		out.Window = n
		res.Outcomes = append(res.Outcomes, out)
	}

	// Window sessions close even when the run was canceled.
	for _, a := range aware {
		if err := a.EndWindow(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("failed to end window", map[string]any{"window": n, "error": err.Error()})
		}
	}

	r.logger.Info("window complete", map[string]any{
		"window":    n,
		"records":   len(batch),
		"processed": len(res.Outcomes),
	})
}

func (r *Runner) record(ctx context.Context, rec types.Record) types.RecordOutcome {
	out := types.RecordOutcome{Row: rec.Row, Label: rec.Label(), State: types.StatePending}

	r.transition(&out, types.StateResolving)
	resolved, partial := r.resolve(ctx, rec)
	if partial != nil && ctx.Err() != nil {
		// Interrupted, not unresolved: the record stays pending.
		out.State = types.StatePending
		return out
	}
	if partial != nil {
		out.Missing = partial.Missing
		r.transition(&out, types.StateSkipped)
		return out
	}
	out.Record = resolved

	var steps []sequencer.Step
	if r.config.Plan != nil {
		var err error
		steps, err = r.config.Plan(resolved)
		if err != nil {
			r.logger.Error("cannot build steps", map[string]any{
				"row":    rec.Row,
				"record": out.Label,
				"error":  err.Error(),
			})
			r.transition(&out, types.StateSkipped)
			return out
		}
	}

	r.transition(&out, types.StateMutating)
	if len(steps) > 0 {
		out.Steps = r.config.Sequencer.Apply(ctx, resolved, steps, r.config.DryRun)
	}
	r.transition(&out, types.StateDone)
	return out
}

func (r *Runner) resolve(ctx context.Context, rec types.Record) (*types.ResolvedRecord, *resolve.Partial) {
	if r.config.Resolver == nil {
		return types.Passthrough(rec), nil
	}
	return r.config.Resolver.Resolve(ctx, rec)
}

func (r *Runner) transition(out *types.RecordOutcome, to types.RecordState) {
	r.logger.Debug("record state", map[string]any{
		"row":  out.Row,
		"from": string(out.State),
		"to":   string(to),
	})
	out.State = to
	switch to {
	case types.StateDone:
		r.config.Collector.IncDone()
	case types.StateSkipped:
		r.config.Collector.IncSkipped()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
