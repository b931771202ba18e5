package framework

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pithecene-io/lmsmig/ledger"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/sequencer"
	"github.com/pithecene-io/lmsmig/types"
)

// Run loads input and runs phase.
func (m *Migration) Run(ctx context.Context, env *migration.Env, phase, input string) (*migration.Result, error) {
	if !slices.Contains(Phases, phase) {
		return nil, types.Fatalf("unknown framework phase %q", phase)
	}
	loaded, err := env.Load(ctx, input, Schema())
	if err != nil {
		return nil, err
	}
	model := BuildModel(loaded.Records)
	env.Log().Info("frameworks loaded", map[string]any{
		"input":      input,
		"rows":       loaded.Rows,
		"frameworks": len(model.Frameworks),
		"terms":      len(model.Terms),
	})

	res := &migration.Result{Input: input, Skips: loaded.Skipped}
	var sub *migration.Result
	switch phase {
	case PhaseSetup:
		sub, err = m.Setup(ctx, env, model)
	case PhaseTerms:
		sub, err = m.runTerms(ctx, env, model)
	case PhaseAssociations:
		sub, err = m.runAssociations(ctx, env, model)
	case PhasePublish:
		sub, err = m.Publish(ctx, env, model)
	case PhaseAll:
		sub, err = m.All(ctx, env, model)
	}
	if err != nil {
		return nil, err
	}
	res.Merge(sub)
	return res, nil
}

// All runs setup, terms, associations and publish, stopping early when
// the run is canceled. Associations use the ledger terms just filled.
func (m *Migration) All(ctx context.Context, env *migration.Env, model *Model) (*migration.Result, error) {
	led, err := m.openLedger()
	if err != nil {
		return nil, err
	}
	res := &migration.Result{}
	phases := []func() (*migration.Result, error){
		func() (*migration.Result, error) { return m.Setup(ctx, env, model) },
		func() (*migration.Result, error) { return m.Terms(ctx, env, model, led) },
		func() (*migration.Result, error) { return m.Associations(ctx, env, model, led) },
		func() (*migration.Result, error) { return m.Publish(ctx, env, model) },
	}
	for _, phase := range phases {
		sub, err := phase()
		if err != nil {
			return nil, err
		}
		res.Merge(sub)
		if res.Canceled() {
			break
		}
	}
	return res, nil
}

// openLedger loads the term ledger, or starts an empty one when none was
// saved yet.
func (m *Migration) openLedger() (*ledger.Ledger, error) {
	led, err := ledger.Load(m.opts.StateFile)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.New(), nil
	}
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "cannot read term ledger", Err: err}
	}
	return led, nil
}

func (m *Migration) runTerms(ctx context.Context, env *migration.Env, model *Model) (*migration.Result, error) {
	led, err := m.openLedger()
	if err != nil {
		return nil, err
	}
	return m.Terms(ctx, env, model, led)
}

func (m *Migration) runAssociations(ctx context.Context, env *migration.Env, model *Model) (*migration.Result, error) {
	led, err := ledger.Load(m.opts.StateFile)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, types.Fatalf("term ledger %s not found: run the terms phase first", m.opts.StateFile)
	}
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "cannot read term ledger", Err: err}
	}
	return m.Associations(ctx, env, model, led)
}

func restStep(name string, req types.Request) sequencer.Step {
	return sequencer.Step{Name: name, Backend: types.BackendREST, Candidates: []types.Request{req}}
}

func runUnits(ctx context.Context, env *migration.Env, records []types.Record, plan sequencer.Plan) (*migration.Result, error) {
	run, err := env.Run(ctx, records, nil, plan)
	if err != nil {
		return nil, err
	}
	return &migration.Result{Run: run}, nil
}

func frameworkRecords(model *Model) ([]types.Record, map[string]Framework) {
	records := make([]types.Record, len(model.Frameworks))
	byCode := make(map[string]Framework, len(model.Frameworks))
	for i, fw := range model.Frameworks {
		records[i] = types.Record{Row: fw.Row, UniqueKey: fw.Code}
		byCode[fw.Code] = fw
	}
	return records, byCode
}

// Setup creates every framework followed by its categories.
func (m *Migration) Setup(ctx context.Context, env *migration.Env, model *Model) (*migration.Result, error) {
	records, byCode := frameworkRecords(model)
	return runUnits(ctx, env, records, func(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
		fw := byCode[rec.UniqueKey]
		req, err := m.opts.Builder.CreateFramework(fw.Code, fw.Name, fw.Description)
		if err != nil {
			return nil, err
		}
		steps := []sequencer.Step{restStep(StepCreateFramework, req)}
		for _, c := range m.opts.Categories {
			req, err := m.opts.Builder.CreateCategory(fw.Code, c)
			if err != nil {
				return nil, err
			}
			steps = append(steps, restStep(StepCreateCategory, req))
		}
		return steps, nil
	})
}

// Terms creates every term the ledger does not hold yet and records the
// returned node ids. A live run saves the ledger, even when canceled or
// when some creations failed; a dry run records placeholder ids in memory
// only.
func (m *Migration) Terms(ctx context.Context, env *migration.Env, model *Model, led *ledger.Ledger) (*migration.Result, error) {
	byLabel := make(map[string]Term, len(model.Terms))
	var records []types.Record
	recorded := 0
	for _, t := range model.Terms {
		if _, ok := led.Get(t.Category, t.Key); ok {
			recorded++
			continue
		}
		byLabel[t.Label()] = t
		records = append(records, types.Record{Row: t.Row, UniqueKey: t.Label()})
	}
	if recorded > 0 {
		env.Log().Info("terms already recorded, not recreated", map[string]any{
			"recorded": recorded,
			"pending":  len(records),
			"ledger":   m.opts.StateFile,
		})
	}

	res, err := runUnits(ctx, env, records, func(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
		t := byLabel[rec.UniqueKey]
		req, err := m.opts.Builder.CreateTerm(t.Framework, t.Category, lms.Term{Name: t.Name, Code: t.Code})
		if err != nil {
			return nil, err
		}
		step := restStep(StepCreateTerm, req)
		step.OnResponse = func(resp types.Response) error {
			if resp.DryRun {
				led.Put(t.Category, t.Key, DryRunID(t.Framework, t.Category, t.Code))
				return nil
			}
			id, err := lms.DecodeNodeID(resp.Body)
			if err != nil {
				return err
			}
			led.Put(t.Category, t.Key, id)
			return nil
		}
		return []sequencer.Step{step}, nil
	})
	if err != nil {
		return nil, err
	}

	if env.DryRun {
		return res, nil
	}
	if err := led.Save(m.opts.StateFile); err != nil {
		return nil, fmt.Errorf("save term ledger: %w", err)
	}
	env.Log().Info("term ledger saved", map[string]any{"path": m.opts.StateFile, "terms": led.Len()})
	res.Outputs = []string{m.opts.StateFile}
	return res, nil
}

// association is one term association update.
type association struct {
	framework string
	category  string
	parentKey string
	parentID  string
	ids       []string
	row       int
}

func (a *association) label() string {
	return a.category + ":" + a.parentKey
}

// associations groups the model's links by parent term, top level first.
// Links whose parent or child id is not in the ledger are left out and
// their keys returned as missing.
func (m *Model) associations(led *ledger.Ledger) ([]*association, []string) {
	byParent := make(map[string]*association)
	perLevel := make(map[string][]*association)
	missing := make(map[string]bool)

	for _, l := range m.links {
		parentID, okParent := led.Get(l.category, l.parent)
		childID, okChild := led.Get(l.childCat, l.child)
		if !okParent {
			missing[l.category+":"+l.parent] = true
		}
		if !okChild {
			missing[l.childCat+":"+l.child] = true
		}
		if !okParent || !okChild {
			continue
		}
		key := l.category + ":" + l.parent
		a, ok := byParent[key]
		if !ok {
			a = &association{framework: l.fw, category: l.category, parentKey: l.parent, parentID: parentID, row: l.row}
			byParent[key] = a
			perLevel[l.category] = append(perLevel[l.category], a)
		}
		if !slices.Contains(a.ids, childID) {
			a.ids = append(a.ids, childID)
		}
	}

	var out []*association
	for _, lv := range levels {
		out = append(out, perLevel[lv.category]...)
	}
	keys := make([]string, 0, len(missing))
	for k := range missing {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return out, keys
}

// Associations links every parent term to its children.
func (m *Migration) Associations(ctx context.Context, env *migration.Env, model *Model, led *ledger.Ledger) (*migration.Result, error) {
	assocs, missing := model.associations(led)
	if len(missing) > 0 {
		env.Log().Warn("terms missing from ledger, their associations are skipped", map[string]any{
			"missing": len(missing),
			"ledger":  m.opts.StateFile,
		})
	}

	byLabel := make(map[string]*association, len(assocs))
	records := make([]types.Record, len(assocs))
	for i, a := range assocs {
		byLabel[a.label()] = a
		records[i] = types.Record{Row: a.row, UniqueKey: a.label()}
	}

	res, err := runUnits(ctx, env, records, func(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
		a := byLabel[rec.UniqueKey]
		req, err := m.opts.Builder.UpdateTermAssociations(a.framework, a.category, NodeSegment(a.parentID), a.ids)
		if err != nil {
			return nil, err
		}
		return []sequencer.Step{restStep(StepAssociate, req)}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		res.Missing = map[types.KeyKind][]string{types.KeyTerm: missing}
	}
	return res, nil
}

// Publish publishes every framework.
func (m *Migration) Publish(ctx context.Context, env *migration.Env, model *Model) (*migration.Result, error) {
	records, _ := frameworkRecords(model)
	return runUnits(ctx, env, records, func(rec *types.ResolvedRecord) ([]sequencer.Step, error) {
		req, err := m.opts.Builder.PublishFramework(rec.UniqueKey)
		if err != nil {
			return nil, err
		}
		return []sequencer.Step{restStep(StepPublish, req)}, nil
	})
}
