// Package types defines the core domain types shared by the migration pipeline.
//
// Records flow Loader → Resolver → Sequencer → Runner:
//
//	Row (raw CSV) → Record (validated) → ResolvedRecord (identifiers) → StepResult
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"sort"
	"strings"
	"time"
)

// KeyKind names a business key that must be resolved to a backend identifier.
type KeyKind string

// Business key kinds.
const (
	KeyUser   KeyKind = "user"
	KeyCourse KeyKind = "course"
	KeyBatch  KeyKind = "batch"
	// KeyTerm is a framework term recorded in the term ledger.
	KeyTerm KeyKind = "term"
)

// SkipReason explains why a row never became a record.
type SkipReason string

// Skip reasons reported by the loader.
const (
	SkipMissingFields SkipReason = "missing fields"
	SkipInvalidDate   SkipReason = "invalid date"
	SkipDuplicate     SkipReason = "duplicate key"
	SkipMismatch      SkipReason = "mismatched list lengths"
	SkipMalformed     SkipReason = "malformed row"
)

// Skip records one row rejected by the loader.
// Row is the 1-based data row index (header excluded).
type Skip struct {
	Row    int        `json:"row"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Record is a validated, trimmed input row.
//
// Fields holds every column of the row after cleanup. Date is the
// normalized value of the schema's date column (zero if the schema has none).
// Keys holds the business keys that still need resolution.
type Record struct {
	// Row is the 1-based data row index the record came from.
	Row int
	// UniqueKey is the deduplication key, empty when the schema has none.
	UniqueKey string
	// Fields maps column name to cleaned value.
	Fields map[string]string
	// Date is the normalized date column value.
	Date time.Time
	// Keys maps key kind to the business key awaiting resolution.
	Keys map[KeyKind]string
}

// Field returns the cleaned value of column name, or "".
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Label returns a short human-readable identity for logs.
func (r *Record) Label() string {
	if r.UniqueKey != "" {
		return r.UniqueKey
	}
	parts := make([]string, 0, len(r.Keys))
	for _, k := range SortedKinds(r.Keys) {
		parts = append(parts, string(k)+"="+r.Keys[k])
	}
	return strings.Join(parts, ",")
}

// Identifier is a resolved backend identifier plus its display name.
type Identifier struct {
	ID   string
	Name string
}

// ResolvedRecord is a Record whose every business key has a backend identifier.
type ResolvedRecord struct {
	Record
	IDs map[KeyKind]Identifier
}

// ID returns the resolved identifier for kind, or "".
func (r *ResolvedRecord) ID(kind KeyKind) string {
	if r == nil || r.IDs == nil {
		return ""
	}
	return r.IDs[kind].ID
}

// Name returns the resolved display name for kind, or "".
func (r *ResolvedRecord) Name(kind KeyKind) string {
	if r == nil || r.IDs == nil {
		return ""
	}
	return r.IDs[kind].Name
}

// Passthrough wraps a record that needs no resolution.
func Passthrough(rec Record) *ResolvedRecord {
	return &ResolvedRecord{Record: rec, IDs: map[KeyKind]Identifier{}}
}

// RecordState is the per-record lifecycle state.
//
// PENDING → RESOLVING → MUTATING → {DONE, SKIPPED}. SKIPPED may be reached
// from any stage that finds the record unusable; DONE only after the
// sequencer returned, whatever the individual step outcomes.
type RecordState string

// Record states.
const (
	StatePending   RecordState = "pending"
	StateResolving RecordState = "resolving"
	StateMutating  RecordState = "mutating"
	StateDone      RecordState = "done"
	StateSkipped   RecordState = "skipped"
)

// IsTerminal reports whether the state is DONE or SKIPPED.
func (s RecordState) IsTerminal() bool {
	return s == StateDone || s == StateSkipped
}

// SortedKinds returns the map's key kinds in lexical order.
func SortedKinds[V any](m map[KeyKind]V) []KeyKind {
	kinds := make([]KeyKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
