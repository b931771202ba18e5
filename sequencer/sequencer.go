// Package sequencer applies an ordered list of mutation steps to one
// record.
//
// Steps run strictly in declared order and a failing step never stops the
// steps after it. A step may carry several candidate encodings of the same
// change; they are tried in order until one succeeds. In dry-run mode
// nothing is dispatched: every candidate is logged verbatim and the step
// counts as a synthetic success.
package sequencer

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/adapter/rest"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 15 * time.Second

// Step is one named mutation against one backend.
type Step struct {
	// Name identifies the step in logs and reports.
	Name string
	// Backend is the adapter the candidates are dispatched to.
	Backend types.Backend
	// Candidates are alternative requests for the same change, tried in
	// order until one succeeds.
	Candidates []types.Request
	// OnResponse, if set, runs after the successful candidate (or the
	// synthetic dry-run success). An error turns the step into a failure.
	OnResponse func(types.Response) error
}

// Plan builds the steps for one resolved record.
type Plan func(rec *types.ResolvedRecord) ([]Step, error)

// Observer is notified of every step result as it completes.
type Observer func(rec *types.ResolvedRecord, result types.StepResult)

// Sequencer dispatches steps through an adapter set.
type Sequencer struct {
	adapters  adapter.Set
	logger    *log.Logger
	collector *metrics.Collector
	timeout   time.Duration
	observers []Observer
	now       func() time.Time
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithObserver registers a step observer.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observers = append(s.observers, o) }
}

// New creates a Sequencer. logger and collector may be nil.
func New(adapters adapter.Set, logger *log.Logger, collector *metrics.Collector, opts ...Option) *Sequencer {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Sequencer{
		adapters:  adapters,
		logger:    logger,
		collector: collector,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply runs steps for rec in order and returns one result per executed
// step. Once ctx is done no further step starts; the steps already
// completed stand.
func (s *Sequencer) Apply(ctx context.Context, rec *types.ResolvedRecord, steps []Step, dryRun bool) []types.StepResult {
	results := make([]types.StepResult, 0, len(steps))
	for _, step := range steps {
		if ctx.Err() != nil {
			s.logger.Warn("run canceled, remaining steps not executed", map[string]any{
				"row":  rec.Row,
				"step": step.Name,
			})
			break
		}

		var res types.StepResult
		if dryRun {
			res = s.dryRun(rec, step)
		} else {
			res = s.live(ctx, rec, step)
		}

		s.collector.RecordStep(res)
		s.logResult(rec, res)
		for _, o := range s.observers {
			o(rec, res)
		}
		results = append(results, res)
	}
	return results
}

func (s *Sequencer) dryRun(rec *types.ResolvedRecord, step Step) types.StepResult {
	res := types.StepResult{
		Step:     step.Name,
		Backend:  step.Backend,
		Status:   types.StepSucceeded,
		DryRun:   true,
		Attempts: len(step.Candidates),
		Response: types.Response{DryRun: true},
	}
	for i, c := range step.Candidates {
		s.logger.Info("dry run: would dispatch", map[string]any{
			"row":       rec.Row,
			"step":      step.Name,
			"backend":   string(backendOf(step, c)),
			"candidate": i + 1,
			"request":   c.String(),
		})
		res.Request = c
	}
	if len(step.Candidates) == 0 {
		return s.fail(res, errors.New("step has no request"))
	}
	if step.OnResponse != nil {
		if err := step.OnResponse(res.Response); err != nil {
			return s.fail(res, err)
		}
	}
	return res
}

func (s *Sequencer) live(ctx context.Context, rec *types.ResolvedRecord, step Step) (res types.StepResult) {
	start := s.now()
	res = types.StepResult{Step: step.Name, Backend: step.Backend}
	defer func() { res.Duration = s.now().Sub(start) }()

	if len(step.Candidates) == 0 {
		return s.fail(res, errors.New("step has no request"))
	}

	var lastErr error
	for i, c := range step.Candidates {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		res.Attempts = i + 1
		res.Request = c

		resp, err := s.dispatch(ctx, step, c)
		res.Response = resp
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if i < len(step.Candidates)-1 {
			s.logger.Debug("candidate rejected, trying next", map[string]any{
				"row":       rec.Row,
				"step":      step.Name,
				"candidate": i + 1,
				"error":     err.Error(),
			})
		}
	}

	if lastErr != nil {
		return s.fail(res, lastErr)
	}
	if step.OnResponse != nil {
		if err := step.OnResponse(res.Response); err != nil {
			return s.fail(res, err)
		}
	}
	res.Status = types.StepSucceeded
	return res
}

func (s *Sequencer) dispatch(ctx context.Context, step Step, req types.Request) (types.Response, error) {
	d, err := s.adapters.Get(backendOf(step, req))
	if err != nil {
		return types.Response{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return d.Dispatch(ctx, req)
}

// fail marks res failed with a StepFailure carrying the request context.
func (s *Sequencer) fail(res types.StepResult, err error) types.StepResult {
	sf := &types.StepFailure{
		Step:    res.Step,
		Backend: res.Backend,
		Request: res.Request,
		Status:  res.Response.Status,
		Body:    string(res.Response.Body),
		Err:     err,
	}
	var se *rest.StatusError
	if errors.As(err, &se) {
		sf.Status = se.Code
		sf.Body = se.Body
	}
	res.Status = types.StepFailed
	res.Err = sf
	return res
}

func (s *Sequencer) logResult(rec *types.ResolvedRecord, res types.StepResult) {
	fields := map[string]any{
		"row":      rec.Row,
		"record":   rec.Label(),
		"step":     res.Step,
		"backend":  string(res.Backend),
		"attempts": res.Attempts,
	}
	if res.OK() {
		if !res.DryRun {
			fields["duration_ms"] = res.Duration.Milliseconds()
			s.logger.Info("step succeeded", fields)
		}
		return
	}
	fields["request"] = res.Request.String()
	fields["error"] = res.Err.Error()
	var sf *types.StepFailure
	if errors.As(res.Err, &sf) && sf.Body != "" {
		fields["response"] = sf.Body
	}
	s.logger.Error("step failed", fields)
}

// backendOf prefers the request's own backend and falls back to the step's.
func backendOf(step Step, req types.Request) types.Backend {
	if req.Backend != "" {
		return req.Backend
	}
	return step.Backend
}
