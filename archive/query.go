package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lmsmig/report"
)

// ErrNoReport is returned when the dataset holds no matching report.
var ErrNoReport = errors.New("no archived report found")

// Reader queries an archived dataset.
type Reader struct {
	dataset lode.Dataset
}

// NewReader opens dataset id over factory with the write-path layout.
func NewReader(id string, factory lode.StoreFactory) (*Reader, error) {
	if id == "" {
		id = DefaultDataset
	}
	ds, err := newDataset(id, factory)
	if err != nil {
		return nil, wrap("init", id, err)
	}
	return &Reader{dataset: ds}, nil
}

// LatestReport returns the most recent report, optionally restricted to
// one run id.
func (r *Reader) LatestReport(ctx context.Context, runID string) (*report.RunReport, error) {
	records, err := r.latest(ctx, RecordKindReport, runID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		raw, ok := records[i]["report"]
		if !ok {
			continue
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("re-encode archived report: %w", err)
		}
		var rep report.RunReport
		if err := json.Unmarshal(data, &rep); err != nil {
			return nil, fmt.Errorf("decode archived report: %w", err)
		}
		return &rep, nil
	}
	return nil, ErrNoReport
}

// Steps returns every archived step record of runID, in write order.
func (r *Reader) Steps(ctx context.Context, runID string) ([]map[string]any, error) {
	snapshots, err := r.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", "snapshots", err)
	}
	var out []map[string]any
	for _, snap := range snapshots {
		if !matchesPartition(snap, "record_kind", RecordKindStep) || !matchesPartition(snap, "run_id", runID) {
			continue
		}
		recs, err := r.read(ctx, snap)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec["record_kind"] == RecordKindStep && (runID == "" || rec["run_id"] == runID) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// latest returns the records of the newest snapshot holding kind.
func (r *Reader) latest(ctx context.Context, kind, runID string) ([]map[string]any, error) {
	snapshots, err := r.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", "snapshots", err)
	}
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !matchesPartition(snap, "record_kind", kind) || !matchesPartition(snap, "run_id", runID) {
			continue
		}
		recs, err := r.read(ctx, snap)
		if err != nil {
			return nil, err
		}
		var matched []map[string]any
		for _, rec := range recs {
			// Record fields are authoritative over manifest paths.
			if rec["record_kind"] != kind || (runID != "" && rec["run_id"] != runID) {
				continue
			}
			matched = append(matched, rec)
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}
	return nil, ErrNoReport
}

func (r *Reader) read(ctx context.Context, snap *lode.DatasetSnapshot) ([]map[string]any, error) {
	data, err := r.dataset.Read(ctx, snap.ID)
	if err != nil {
		return nil, wrap("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
	}
	out := make([]map[string]any, 0, len(data))
	for _, item := range data {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// matchesPartition reports whether any manifest file sits under an exact
// key=value path segment. An empty value matches everything.
func matchesPartition(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
