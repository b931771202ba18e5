package sequencer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/adapter/rest"
	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/types"
)

// recorder is a fake dispatcher that fails requests whose target is listed.
type recorder struct {
	mu    sync.Mutex
	sent  []types.Request
	fails map[string]error
	block bool
}

func (r *recorder) Dispatch(ctx context.Context, req types.Request) (types.Response, error) {
	r.mu.Lock()
	r.sent = append(r.sent, req)
	err := r.fails[req.Target]
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return types.Response{}, ctx.Err()
	}
	if err != nil {
		return types.Response{Status: http.StatusBadRequest, Body: []byte("bad")}, err
	}
	return types.Response{Status: http.StatusOK, Body: []byte(`{"target":"` + req.Target + `"}`)}, nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.Target
	}
	return out
}

func record() *types.ResolvedRecord {
	return types.Passthrough(types.Record{Row: 1, UniqueKey: "do_1|b_1"})
}

func step(name string, targets ...string) Step {
	s := Step{Name: name, Backend: types.BackendREST}
	for _, t := range targets {
		s.Candidates = append(s.Candidates, types.Request{Backend: types.BackendREST, Method: http.MethodPatch, Target: t, Body: []byte(`{"t":"` + t + `"}`)})
	}
	return s
}

func TestApply_OrderAndFailureIsolation(t *testing.T) {
	rec := &recorder{fails: map[string]error{"/two": errors.New("boom")}}
	c := metrics.NewCollector("course-batch", "", "run", false)
	seq := New(adapter.Set{types.BackendREST: rec}, nil, c)

	results := seq.Apply(t.Context(), record(), []Step{
		step("one", "/one"),
		step("two", "/two"),
		step("three", "/three"),
	}, false)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"/one", "/two", "/three"}, rec.targets())
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.True(t, results[2].OK())

	var sf *types.StepFailure
	require.ErrorAs(t, results[1].Err, &sf)
	assert.Equal(t, "two", sf.Step)
	assert.Equal(t, http.StatusBadRequest, sf.Status)
	assert.Equal(t, "/two", sf.Request.Target)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.StepsSucceeded)
	assert.Equal(t, int64(1), snap.StepsFailed)
	assert.Equal(t, int64(1), snap.FailedByStep["two"])
}

func TestApply_CandidatesStopOnFirstSuccess(t *testing.T) {
	rec := &recorder{fails: map[string]error{"/millis": errors.New("rejected")}}
	seq := New(adapter.Set{types.BackendREST: rec}, nil, nil)

	results := seq.Apply(t.Context(), record(), []Step{
		step("update-start-date", "/millis", "/offset", "/never"),
	}, false)

	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, 2, results[0].Attempts)
	assert.Equal(t, "/offset", results[0].Request.Target)
	assert.Equal(t, []string{"/millis", "/offset"}, rec.targets())
}

func TestApply_AllCandidatesFail(t *testing.T) {
	rec := &recorder{fails: map[string]error{"/a": errors.New("a"), "/b": errors.New("b")}}
	seq := New(adapter.Set{types.BackendREST: rec}, nil, nil)

	results := seq.Apply(t.Context(), record(), []Step{step("s", "/a", "/b")}, false)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.Equal(t, 2, results[0].Attempts)
	assert.ErrorContains(t, results[0].Err, "b")
}

func TestApply_DryRunDispatchesNothing(t *testing.T) {
	rec := &recorder{}
	var buf bytes.Buffer
	logger := log.Nop().WithOutput(&buf)
	c := metrics.NewCollector("course-batch", "", "run", true)
	seq := New(adapter.Set{types.BackendREST: rec}, logger, c)

	var seen types.Response
	s := step("update-start-date", "/millis", "/offset")
	s.OnResponse = func(r types.Response) error {
		seen = r
		return nil
	}

	results := seq.Apply(t.Context(), record(), []Step{step("remove-template", "/remove"), s}, true)

	assert.Empty(t, rec.targets())
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.OK())
		assert.True(t, r.DryRun)
	}
	assert.True(t, seen.DryRun)

	out := buf.String()
	assert.Contains(t, out, `PATCH /millis {\"t\":\"/millis\"}`)
	assert.Contains(t, out, `PATCH /offset {\"t\":\"/offset\"}`)
	assert.Equal(t, int64(2), c.Snapshot().StepsDryRun)
}

func TestApply_DryRunAndLiveBodiesIdentical(t *testing.T) {
	var mu sync.Mutex
	var wire [][]byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		mu.Lock()
		wire = append(wire, buf.Bytes())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d, err := rest.New(rest.Config{BaseURL: ts.URL})
	require.NoError(t, err)

	var logged []types.Request
	steps := []Step{step("remove-template", "/remove"), step("add-template", "/add")}
	dry := New(adapter.Set{types.BackendREST: d}, nil, nil, WithObserver(func(_ *types.ResolvedRecord, r types.StepResult) {
		logged = append(logged, r.Request)
	}))
	dry.Apply(t.Context(), record(), steps, true)
	New(adapter.Set{types.BackendREST: d}, nil, nil).Apply(t.Context(), record(), steps, false)

	require.Len(t, logged, 2)
	require.Len(t, wire, 2)
	for i := range logged {
		assert.Equal(t, string(logged[i].Body), string(wire[i]))
	}
}

func TestApply_OnResponseErrorFailsStep(t *testing.T) {
	rec := &recorder{}
	seq := New(adapter.Set{types.BackendREST: rec}, nil, nil)

	s := step("create-term", "/term")
	s.OnResponse = func(types.Response) error { return errors.New("no node id") }
	results := seq.Apply(t.Context(), record(), []Step{s}, false)

	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.ErrorContains(t, results[0].Err, "no node id")
}

func TestApply_TimeoutIsStepFailure(t *testing.T) {
	rec := &recorder{block: true}
	seq := New(adapter.Set{types.BackendREST: rec}, nil, nil, WithTimeout(20*time.Millisecond))

	results := seq.Apply(t.Context(), record(), []Step{step("slow", "/slow"), step("next", "/next")}, false)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.False(t, results[1].OK())
}

func TestApply_CanceledContextStopsFurtherSteps(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(t.Context())

	seq := New(adapter.Set{types.BackendREST: rec}, nil, nil, WithObserver(func(_ *types.ResolvedRecord, r types.StepResult) {
		if r.Step == "one" {
			cancel()
		}
	}))
	results := seq.Apply(ctx, record(), []Step{step("one", "/one"), step("two", "/two")}, false)

	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, []string{"/one"}, rec.targets())
}

func TestApply_UnknownBackend(t *testing.T) {
	seq := New(adapter.Set{}, nil, nil)
	s := Step{Name: "cql", Backend: types.BackendCQL, Candidates: []types.Request{{Backend: types.BackendCQL, Target: "UPDATE x"}}}
	results := seq.Apply(t.Context(), record(), []Step{s}, false)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, adapter.ErrNoDispatcher)
}

func TestApply_EmptyStepFails(t *testing.T) {
	seq := New(adapter.Set{}, nil, nil)
	results := seq.Apply(t.Context(), record(), []Step{{Name: "empty", Backend: types.BackendREST}}, true)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
}
