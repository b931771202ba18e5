// Package migration holds what the course-batch, enrolment and framework
// migrations share: the run environment and the phase result fed to the
// reporter.
package migration

import (
	"context"
	"slices"
	"time"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/runner"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// Env carries the dependencies every phase runs with.
type Env struct {
	Logger    *log.Logger
	Collector *metrics.Collector
	// Adapters holds the live dispatchers. Phases only touch the backends
	// their steps name.
	Adapters adapter.Set
	DryRun   bool
	// BatchSize and Delay pace the runner windows.
	BatchSize int
	Delay     time.Duration
	// Timeout bounds every backend call.
	Timeout time.Duration
	// Headers renames input columns (canonical name to file header).
	Headers map[string]string
	// Observers receive every step result, e.g. the run archive.
	Observers []sequencer.Observer
	// Sleep overrides the inter-window wait (tests).
	Sleep runner.SleepFunc
}

// Log returns the env logger, never nil.
func (e *Env) Log() *log.Logger {
	if e.Logger == nil {
		return log.Nop()
	}
	return e.Logger
}

// Load reads path under schema, applying the header overrides.
func (e *Env) Load(ctx context.Context, path string, schema csvload.Schema) (*csvload.Result, error) {
	if len(e.Headers) > 0 {
		schema.Headers = e.Headers
	}
	return csvload.NewLoader(e.Logger, e.Collector).Load(ctx, path, schema)
}

// Run drives records through resolution and plan in paced windows.
func (e *Env) Run(ctx context.Context, records []types.Record, resolver runner.Resolver, plan sequencer.Plan) (*runner.Result, error) {
	return e.RunSized(ctx, records, resolver, plan, e.BatchSize)
}

// RunSized is Run with an explicit window size.
func (e *Env) RunSized(ctx context.Context, records []types.Record, resolver runner.Resolver, plan sequencer.Plan, size int) (*runner.Result, error) {
	opts := []sequencer.Option{sequencer.WithTimeout(e.Timeout)}
	for _, o := range e.Observers {
		opts = append(opts, sequencer.WithObserver(o))
	}
	r, err := runner.New(runner.RunConfig{
		BatchSize: size,
		Delay:     e.Delay,
		DryRun:    e.DryRun,
		Resolver:  resolver,
		Plan:      plan,
		Sequencer: sequencer.New(e.Adapters, e.Logger, e.Collector, opts...),
		Adapters:  e.Adapters,
		Logger:    e.Logger,
		Collector: e.Collector,
		Sleep:     e.Sleep,
	})
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, records), nil
}

// Result is the outcome of one phase.
type Result struct {
	// Input is the file the phase read.
	Input string
	// Skips lists rows rejected by the loader.
	Skips []types.Skip
	// Run is the runner accounting; nil for phases that only load or
	// write files.
	Run *runner.Result
	// Missing holds the resolver's unresolved keys per kind.
	Missing map[types.KeyKind][]string
	// Outputs lists files the phase wrote.
	Outputs []string
}

// Merge folds a later sub-phase into r, as "all" phases do. Missing keys
// stay sorted and unique per kind; outputs are listed once.
func (r *Result) Merge(o *Result) {
	if o == nil {
		return
	}
	if r.Input == "" {
		r.Input = o.Input
	}
	r.Skips = append(r.Skips, o.Skips...)
	for _, path := range o.Outputs {
		if !slices.Contains(r.Outputs, path) {
			r.Outputs = append(r.Outputs, path)
		}
	}
	for kind, keys := range o.Missing {
		if r.Missing == nil {
			r.Missing = make(map[types.KeyKind][]string)
		}
		merged := append(slices.Clone(r.Missing[kind]), keys...)
		slices.Sort(merged)
		r.Missing[kind] = slices.Compact(merged)
	}
	switch {
	case o.Run == nil:
	case r.Run == nil:
		run := *o.Run
		r.Run = &run
	default:
		r.Run.Outcomes = append(r.Run.Outcomes, o.Run.Outcomes...)
		r.Run.Windows += o.Run.Windows
		r.Run.Pending += o.Run.Pending
		r.Run.Canceled = r.Run.Canceled || o.Run.Canceled
		r.Run.Duration += o.Run.Duration
	}
}

// Canceled reports whether the phase stopped on cancellation.
func (r *Result) Canceled() bool {
	return r != nil && r.Run != nil && r.Run.Canceled
}
