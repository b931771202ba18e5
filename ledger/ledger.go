// Package ledger persists the term identifiers created by the framework
// terms phase so the associations phase can run in a later process.
//
// The file is a single msgpack document:
//
//	{version: 1, terms: {category: {key: node_id}}}
//
// Domain terms are keyed by framework code; every other category by
// "<framework>_<lower-cased term code>".
package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/lmsmig/iox"
)

// FormatVersion is the on-disk format version.
const FormatVersion = 1

// ErrNotFound is returned by Load when the ledger file does not exist.
var ErrNotFound = errors.New("term ledger not found")

type document struct {
	Version int                          `msgpack:"version"`
	Terms   map[string]map[string]string `msgpack:"terms"`
}

// Ledger maps category and term key to the platform node id.
// Safe for concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	terms map[string]map[string]string
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{terms: make(map[string]map[string]string)}
}

// Put records id for key in category, replacing any previous id.
func (l *Ledger) Put(category, key, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.terms[category]
	if !ok {
		m = make(map[string]string)
		l.terms[category] = m
	}
	m[key] = id
}

// Get returns the id recorded for key in category.
func (l *Ledger) Get(category, key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.terms[category][key]
	return id, ok
}

// Keys returns the keys of category in lexical order.
func (l *Ledger) Keys(category string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.terms[category]))
	for k := range l.terms[category] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of recorded ids across all categories.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, m := range l.terms {
		n += len(m)
	}
	return n
}

// Save writes the ledger to path atomically.
func (l *Ledger) Save(path string) error {
	l.mu.RLock()
	data, err := msgpack.Marshal(document{Version: FormatVersion, Terms: l.terms})
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode term ledger: %w", err)
	}
	if err := iox.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("write term ledger %s: %w", path, err)
	}
	return nil
}

// Load reads a ledger written by Save.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read term ledger %s: %w", path, err)
	}
	var doc document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode term ledger %s: %w", path, err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("term ledger %s: unsupported version %d", path, doc.Version)
	}
	l := New()
	for cat, m := range doc.Terms {
		if m != nil {
			l.terms[cat] = m
		}
	}
	return l, nil
}
