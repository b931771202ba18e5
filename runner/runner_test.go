package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/resolve"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// backend is a fake window-aware dispatcher that logs every call.
type backend struct {
	mu     sync.Mutex
	events []string
	fail   func(types.Request) error
}

func (b *backend) log(e string) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *backend) Dispatch(_ context.Context, req types.Request) (types.Response, error) {
	b.log("dispatch " + req.Target)
	if b.fail != nil {
		if err := b.fail(req); err != nil {
			return types.Response{Status: http.StatusInternalServerError}, err
		}
	}
	return types.Response{Status: http.StatusOK}, nil
}

func (b *backend) Close() error { return nil }

func (b *backend) BeginWindow(context.Context) error {
	b.log("begin")
	return nil
}

func (b *backend) EndWindow(context.Context) error {
	b.log("end")
	return nil
}

func records(n int) []types.Record {
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.Record{Row: i + 1, UniqueKey: fmt.Sprintf("r%d", i+1)}
	}
	return out
}

func threeSteps(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	mk := func(name string) sequencer.Step {
		return sequencer.Step{
			Name:       name,
			Backend:    types.BackendREST,
			Candidates: []types.Request{{Backend: types.BackendREST, Method: http.MethodPatch, Target: "/" + name + "/" + rec.UniqueKey}},
		}
	}
	return []sequencer.Step{mk("one"), mk("two"), mk("three")}, nil
}

type sleeps struct {
	calls []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newRunner(t *testing.T, cfg RunConfig) *Runner {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestRun_WindowsAndPacing(t *testing.T) {
	be := &backend{}
	set := adapter.Set{types.BackendREST: be}
	sl := &sleeps{}
	c := metrics.NewCollector("m", "", "run", false)

	r := newRunner(t, RunConfig{
		BatchSize: 2,
		Delay:     100 * time.Millisecond,
		Plan:      func(*types.ResolvedRecord) ([]sequencer.Step, error) { return nil, nil },
		Sequencer: sequencer.New(set, nil, c),
		Adapters:  set,
		Collector: c,
		Sleep:     sl.sleep,
	})

	res := r.Run(t.Context(), records(5))

	assert.Equal(t, 3, res.Windows)
	assert.Len(t, res.Done(), 5)
	// two sleeps for three windows, none after the last
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, sl.calls)
	assert.Equal(t, []string{"begin", "end", "begin", "end", "begin", "end"}, be.events)
	assert.Equal(t, []int{1, 1, 2, 2, 3}, windowsOf(res))
	assert.Equal(t, int64(3), c.Snapshot().Windows)
}

func windowsOf(res *Result) []int {
	out := make([]int, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.Window
	}
	return out
}

func TestRun_SingleWindowNeverSleeps(t *testing.T) {
	sl := &sleeps{}
	r := newRunner(t, RunConfig{BatchSize: 10, Delay: time.Second, Sleep: sl.sleep})
	res := r.Run(t.Context(), records(3))
	assert.Equal(t, 1, res.Windows)
	assert.Empty(t, sl.calls)
}

func TestRun_EmptyInput(t *testing.T) {
	r := newRunner(t, RunConfig{})
	res := r.Run(t.Context(), nil)
	assert.Zero(t, res.Windows)
	assert.Empty(t, res.Outcomes)
}

func TestRun_DryRunSkipsWindowSessions(t *testing.T) {
	be := &backend{}
	set := adapter.Set{types.BackendCQL: be}
	r := newRunner(t, RunConfig{
		BatchSize: 1,
		DryRun:    true,
		Plan: func(*types.ResolvedRecord) ([]sequencer.Step, error) {
			return []sequencer.Step{{Name: "cql", Backend: types.BackendCQL, Candidates: []types.Request{{Backend: types.BackendCQL, Target: "UPDATE"}}}}, nil
		},
		Sequencer: sequencer.New(set, nil, nil),
		Adapters:  set,
		Sleep:     (&sleeps{}).sleep,
	})
	res := r.Run(t.Context(), records(2))
	assert.Len(t, res.Done(), 2)
	assert.Empty(t, be.events)
}

// A failing middle step leaves the record DONE with the other steps applied.
func TestRun_StepFailureStillDone(t *testing.T) {
	be := &backend{fail: func(req types.Request) error {
		if req.Target == "/two/r2" {
			return errors.New("server error")
		}
		return nil
	}}
	set := adapter.Set{types.BackendREST: be}
	c := metrics.NewCollector("course-batch", "", "run", false)
	r := newRunner(t, RunConfig{
		BatchSize: 50,
		Plan:      threeSteps,
		Sequencer: sequencer.New(set, nil, c),
		Adapters:  set,
		Collector: c,
	})

	res := r.Run(t.Context(), records(3))

	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.Equal(t, types.StateDone, o.State)
		assert.Len(t, o.Steps, 3)
	}
	assert.Equal(t, 1, res.Outcomes[1].Failed())
	assert.Equal(t, "two", res.Outcomes[1].Steps[1].Step)
	assert.True(t, res.Outcomes[1].Steps[2].OK())
	assert.Equal(t, 1, res.FailedSteps())

	snap := c.Snapshot()
	assert.Equal(t, int64(8), snap.StepsSucceeded)
	assert.Equal(t, int64(1), snap.StepsFailed)
	assert.Equal(t, int64(3), snap.RecordsDone)
}

type stubResolver struct {
	missing map[int]bool
}

func (s stubResolver) Resolve(_ context.Context, rec types.Record) (*types.ResolvedRecord, *resolve.Partial) {
	if s.missing[rec.Row] {
		return nil, &resolve.Partial{Record: rec, Missing: []types.KeyKind{types.KeyUser}}
	}
	return types.Passthrough(rec), nil
}

func TestRun_UnresolvedAndUnplannableAreSkipped(t *testing.T) {
	be := &backend{}
	set := adapter.Set{types.BackendREST: be}
	c := metrics.NewCollector("m", "", "run", false)
	r := newRunner(t, RunConfig{
		Resolver: stubResolver{missing: map[int]bool{2: true}},
		Plan: func(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
			if rec.Row == 3 {
				return nil, errors.New("no template")
			}
			return threeSteps(rec)
		},
		Sequencer: sequencer.New(set, nil, c),
		Adapters:  set,
		Collector: c,
	})

	res := r.Run(t.Context(), records(4))

	states := make([]types.RecordState, len(res.Outcomes))
	for i, o := range res.Outcomes {
		states[i] = o.State
	}
	assert.Equal(t, []types.RecordState{types.StateDone, types.StateSkipped, types.StateSkipped, types.StateDone}, states)
	assert.Equal(t, []types.KeyKind{types.KeyUser}, res.Outcomes[1].Missing)
	assert.Empty(t, res.Outcomes[2].Steps)
	assert.Equal(t, int64(2), c.Snapshot().RecordsSkipped)
}

func TestRun_CancelBetweenWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	r := newRunner(t, RunConfig{
		BatchSize: 2,
		Delay:     time.Second,
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})

	res := r.Run(ctx, records(5))

	assert.True(t, res.Canceled)
	assert.Equal(t, 1, res.Windows)
	assert.Len(t, res.Outcomes, 2)
	assert.Equal(t, 3, res.Pending)
}

func TestRun_CancelMidWindowStopsRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	be := &backend{}
	set := adapter.Set{types.BackendREST: be}
	seq := sequencer.New(set, nil, nil, sequencer.WithObserver(func(rec *types.ResolvedRecord, r types.StepResult) {
		if rec.Row == 2 && r.Step == "one" {
			cancel()
		}
	}))
	r := newRunner(t, RunConfig{BatchSize: 10, Plan: threeSteps, Sequencer: seq, Adapters: set})

	res := r.Run(ctx, records(4))

	assert.True(t, res.Canceled)
	require.Len(t, res.Outcomes, 2)
	assert.Len(t, res.Outcomes[1].Steps, 1, "completed steps stand, later ones never start")
	assert.Equal(t, 2, res.Pending)
	// the window is still closed
	assert.Equal(t, "end", be.events[len(be.events)-1])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(RunConfig{Delay: -time.Second})
	assert.Error(t, err)

	_, err = New(RunConfig{Plan: threeSteps})
	assert.Error(t, err)

	r, err := New(RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, r.config.BatchSize)
}

func TestSleep_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(t.Context(), time.Millisecond))
}
