// Package resolve maps business keys (email, course code, batch name) to
// backend identifiers.
//
// Each distinct key is looked up at most once per run. Failures are
// memoized too: a key that could not be resolved is not retried within
// the run, and every record carrying it lands in the missing bucket.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pithecene-io/lmsmig/log"
	"github.com/pithecene-io/lmsmig/metrics"
	"github.com/pithecene-io/lmsmig/types"
)

// Lookup queries a backend for the identifiers matching key.
type Lookup func(ctx context.Context, key string) ([]types.Identifier, error)

// DeriveKey builds a dependent business key from a record and the
// identifiers resolved so far.
type DeriveKey func(rec types.Record, ids map[types.KeyKind]types.Identifier) string

// Partial describes a record that could not be fully resolved.
type Partial struct {
	Record types.Record
	// Resolved holds the identifiers that did resolve.
	Resolved map[types.KeyKind]types.Identifier
	// Missing lists the unresolved key kinds in resolution order.
	Missing []types.KeyKind
	// Failures carries one failure per missing kind.
	Failures []*types.ResolutionFailure
}

// Err joins the failures into a single error.
func (p *Partial) Err() error {
	if p == nil {
		return nil
	}
	errs := make([]error, len(p.Failures))
	for i, f := range p.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type dependent struct {
	kind   types.KeyKind
	after  types.KeyKind
	derive DeriveKey
}

type entry struct {
	id  types.Identifier
	err *types.ResolutionFailure
}

// Resolver resolves record keys with per-run memoization.
type Resolver struct {
	logger    *log.Logger
	collector *metrics.Collector

	lookups    map[types.KeyKind]Lookup
	dependents []dependent

	mu      sync.Mutex
	cache   map[types.KeyKind]map[string]entry
	missing map[types.KeyKind]map[string]struct{}
	calls   map[types.KeyKind]int
}

// New creates a Resolver. logger and collector may be nil.
func New(logger *log.Logger, collector *metrics.Collector) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		logger:    logger,
		collector: collector,
		lookups:   make(map[types.KeyKind]Lookup),
		cache:     make(map[types.KeyKind]map[string]entry),
		missing:   make(map[types.KeyKind]map[string]struct{}),
		calls:     make(map[types.KeyKind]int),
	}
}

// Register sets the lookup for keys of kind.
func (r *Resolver) Register(kind types.KeyKind, lookup Lookup) *Resolver {
	r.lookups[kind] = lookup
	return r
}

// RegisterDependent declares a key of kind whose value is derived from the
// record once the key of kind after resolved. When after is unresolved the
// dependent lookup is not attempted and its key is not reported missing.
func (r *Resolver) RegisterDependent(kind, after types.KeyKind, derive DeriveKey, lookup Lookup) *Resolver {
	r.lookups[kind] = lookup
	r.dependents = append(r.dependents, dependent{kind: kind, after: after, derive: derive})
	return r
}

// Resolve looks up every key of rec. It returns either a ResolvedRecord
// (all keys resolved) or a Partial (at least one key missing), never both.
func (r *Resolver) Resolve(ctx context.Context, rec types.Record) (*types.ResolvedRecord, *Partial) {
	ids := make(map[types.KeyKind]types.Identifier, len(rec.Keys)+len(r.dependents))
	var failures []*types.ResolutionFailure

	derived := make(map[types.KeyKind]bool, len(r.dependents))
	for _, d := range r.dependents {
		derived[d.kind] = true
	}

	for _, kind := range types.SortedKinds(rec.Keys) {
		if derived[kind] {
			continue
		}
		id, fail := r.one(ctx, kind, rec.Keys[kind])
		if fail != nil {
			failures = append(failures, fail)
			continue
		}
		ids[kind] = id
	}

	keys := maps.Clone(rec.Keys)
	for _, d := range r.dependents {
		if _, ok := ids[d.after]; !ok {
			failures = append(failures, &types.ResolutionFailure{
				Kind:  d.kind,
				Cause: types.CauseDependency,
				Err:   fmt.Errorf("%s unresolved", d.after),
			})
			continue
		}
		key := d.derive(rec, ids)
		if keys == nil {
			keys = make(map[types.KeyKind]string)
		}
		keys[d.kind] = key
		id, fail := r.one(ctx, d.kind, key)
		if fail != nil {
			failures = append(failures, fail)
			continue
		}
		ids[d.kind] = id
	}
	rec.Keys = keys

	if len(failures) > 0 {
		p := &Partial{Record: rec, Resolved: ids, Failures: failures}
		for _, f := range failures {
			p.Missing = append(p.Missing, f.Kind)
		}
		r.collector.IncMissing()
		r.logger.Warn("record not resolved", map[string]any{
			"row":     rec.Row,
			"record":  rec.Label(),
			"missing": kindStrings(p.Missing),
			"error":   p.Err().Error(),
		})
		return nil, p
	}

	r.collector.IncResolved()
	return &types.ResolvedRecord{Record: rec, IDs: ids}, nil
}

// one resolves a single key, consulting and filling the cache.
func (r *Resolver) one(ctx context.Context, kind types.KeyKind, key string) (types.Identifier, *types.ResolutionFailure) {
	r.mu.Lock()
	if e, ok := r.cache[kind][key]; ok {
		r.mu.Unlock()
		return e.id, e.err
	}
	r.mu.Unlock()

	e := r.lookup(ctx, kind, key)

	// A canceled run is not evidence that the key does not exist.
	if e.err != nil && ctx.Err() != nil {
		return e.id, e.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache[kind] == nil {
		r.cache[kind] = make(map[string]entry)
	}
	r.cache[kind][key] = e
	if e.err != nil && key != "" {
		if r.missing[kind] == nil {
			r.missing[kind] = make(map[string]struct{})
		}
		r.missing[kind][key] = struct{}{}
	}
	return e.id, e.err
}

func (r *Resolver) lookup(ctx context.Context, kind types.KeyKind, key string) entry {
	fail := func(cause types.ResolutionCause, err error) entry {
		return entry{err: &types.ResolutionFailure{Kind: kind, Key: key, Cause: cause, Err: err}}
	}

	lookup, ok := r.lookups[kind]
	if !ok {
		return fail(types.CauseUnreachable, fmt.Errorf("no lookup registered for %s", kind))
	}
	if key == "" {
		return fail(types.CauseEmpty, nil)
	}

	r.mu.Lock()
	r.calls[kind]++
	r.mu.Unlock()

	found, err := lookup(ctx, key)
	switch {
	case err != nil:
		return fail(types.CauseUnreachable, err)
	case len(found) == 0:
		return fail(types.CauseEmpty, nil)
	case len(found) > 1:
		return fail(types.CauseAmbiguous, fmt.Errorf("%d matches", len(found)))
	}
	r.logger.Debug("key resolved", map[string]any{
		"kind": string(kind),
		"key":  key,
		"id":   found[0].ID,
	})
	return entry{id: found[0]}
}

// Missing returns the run-wide deduplicated unresolved keys per kind,
// each list sorted.
func (r *Resolver) Missing() map[types.KeyKind][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[types.KeyKind][]string, len(r.missing))
	for kind, set := range r.missing {
		if len(set) == 0 {
			continue
		}
		out[kind] = slices.Sorted(maps.Keys(set))
	}
	return out
}

// Calls returns how many backend lookups were issued per kind.
func (r *Resolver) Calls() map[types.KeyKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.calls)
}

func kindStrings(kinds []types.KeyKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
