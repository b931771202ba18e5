package enrolment

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/iox"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// maxEventLine bounds one line of the events file.
const maxEventLine = 4 << 20

// PostSchema reads the results CSV for the certificate phases. Only the
// user and batch ids are required.
func PostSchema() csvload.Schema {
	return csvload.Schema{
		Name:     Name + "-certificates",
		Required: []string{ColUserID, ColBatchID},
		Columns:  ResultsHeader,
	}
}

func (m *Migration) deleteIndexStep(rec *types.ResolvedRecord) (sequencer.Step, error) {
	req, err := lms.DeleteCertificates(m.opts.Index, rec.Field(ColUserID), rec.Field(ColBatchID))
	if err != nil {
		return sequencer.Step{}, err
	}
	return sequencer.Step{Name: StepDeleteIndex, Backend: types.BackendIndex, Candidates: []types.Request{req}}, nil
}

func (m *Migration) emitStep(body []byte) sequencer.Step {
	return sequencer.Step{
		Name:    StepEmitEvent,
		Backend: types.BackendFile,
		Candidates: []types.Request{{
			Backend: types.BackendFile,
			Method:  "APPEND",
			Target:  m.opts.EventsPath,
			Body:    body,
		}},
	}
}

func (m *Migration) publishStep(body []byte) sequencer.Step {
	return sequencer.Step{
		Name:    StepPublishQueue,
		Backend: types.BackendQueue,
		Candidates: []types.Request{{
			Backend: types.BackendQueue,
			Method:  "PUBLISH",
			Target:  m.opts.Topic,
			Body:    body,
		}},
	}
}

// DeleteIndexPlan purges one user's certificates for one batch.
func (m *Migration) DeleteIndexPlan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	s, err := m.deleteIndexStep(rec)
	if err != nil {
		return nil, err
	}
	return []sequencer.Step{s}, nil
}

// EventPlan writes one certificate event.
func (m *Migration) EventPlan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	body, err := m.opts.Template.Build(&rec.Record, MessageID(m.opts.NewID))
	if err != nil {
		return nil, err
	}
	return []sequencer.Step{m.emitStep(body)}, nil
}

// AllPlan purges, writes and publishes one certificate. The event written
// and the event published are the same bytes.
func (m *Migration) AllPlan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	del, err := m.deleteIndexStep(rec)
	if err != nil {
		return nil, err
	}
	body, err := m.opts.Template.Build(&rec.Record, MessageID(m.opts.NewID))
	if err != nil {
		return nil, err
	}
	return []sequencer.Step{del, m.emitStep(body), m.publishStep(body)}, nil
}

// DeleteIndex purges the indexed certificates of every results row.
func (m *Migration) DeleteIndex(ctx context.Context, env *migration.Env, results string) (*migration.Result, error) {
	if m.opts.Index == "" {
		return nil, errNoIndex
	}
	return m.runResults(ctx, env, results, m.DeleteIndexPlan)
}

// GenerateEvents writes one certificate event per results row. The events
// file is local output, so it is written in dry runs too.
func (m *Migration) GenerateEvents(ctx context.Context, env *migration.Env, results string) (*migration.Result, error) {
	if err := m.checkEvents(); err != nil {
		return nil, err
	}
	local := *env
	local.DryRun = false
	res, err := m.runResults(ctx, &local, results, m.EventPlan)
	if err != nil {
		return nil, err
	}
	if len(res.Run.Outcomes) > 0 {
		res.Outputs = []string{m.opts.EventsPath}
	}
	return res, nil
}

// All runs delete-index, emit-event and publish-queue per results row.
func (m *Migration) All(ctx context.Context, env *migration.Env, results string) (*migration.Result, error) {
	if m.opts.Index == "" {
		return nil, errNoIndex
	}
	if err := m.checkEvents(); err != nil {
		return nil, err
	}
	res, err := m.runResults(ctx, env, results, m.AllPlan)
	if err != nil {
		return nil, err
	}
	if !env.DryRun && len(res.Run.Outcomes) > 0 {
		res.Outputs = []string{m.opts.EventsPath}
	}
	return res, nil
}

func (m *Migration) checkEvents() error {
	if m.opts.Template == nil {
		return errNoTemplate
	}
	if m.opts.EventsPath == "" {
		return errNoEvents
	}
	return nil
}

func (m *Migration) runResults(ctx context.Context, env *migration.Env, results string, plan sequencer.Plan) (*migration.Result, error) {
	loaded, err := loadResults(ctx, env, results, PostSchema())
	if err != nil {
		return nil, err
	}
	run, err := env.Run(ctx, loaded.Records, nil, plan)
	if err != nil {
		return nil, err
	}
	return &migration.Result{Input: results, Skips: loaded.Skipped, Run: run}, nil
}

// ReadEvents reads an events file into one record per line. Blank lines
// are ignored and lines that are not JSON objects are skipped as
// malformed. Records are labeled with their message id.
func ReadEvents(ctx context.Context, path string) ([]types.Record, []types.Skip, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, &types.FatalConfigError{Msg: "cannot open events " + path, Err: err}
	}
	defer iox.DiscardClose(f)

	var (
		records []types.Record
		skips   []types.Skip
		lines   int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return records, skips, lines, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lines++

		var head struct {
			Mid string `json:"mid"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			skips = append(skips, types.Skip{Row: lines, Reason: types.SkipMalformed, Detail: err.Error()})
			continue
		}
		records = append(records, types.Record{
			Row:       lines,
			UniqueKey: head.Mid,
			Fields:    map[string]string{"event": string(line)},
		})
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, nil, lines, types.Fatalf("events %s: line %d exceeds %d bytes", path, lines+1, maxEventLine)
		}
		return nil, nil, lines, fmt.Errorf("read events %s: %w", path, err)
	}
	return records, skips, lines, nil
}

// PushPlan publishes one event line as read.
func (m *Migration) PushPlan(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
	return []sequencer.Step{m.publishStep([]byte(rec.Field("event")))}, nil
}

// PushEvents publishes every event of an events file to the queue, in
// windows of the queue batch size.
func (m *Migration) PushEvents(ctx context.Context, env *migration.Env, events string) (*migration.Result, error) {
	records, skips, lines, err := ReadEvents(ctx, events)
	if err != nil {
		return nil, err
	}
	env.Collector.AddRowsSeen(lines)
	for _, s := range skips {
		env.Collector.IncRowSkipped(s.Reason)
		env.Log().Warn("event skipped", map[string]any{"line": s.Row, "detail": s.Detail})
	}
	env.Log().Info("events loaded", map[string]any{
		"events":  events,
		"records": len(records),
		"skipped": len(skips),
	})

	run, err := env.RunSized(ctx, records, nil, m.PushPlan, m.opts.QueueBatchSize)
	if err != nil {
		return nil, err
	}
	return &migration.Result{Input: events, Skips: skips, Run: run}, nil
}
