// Package adapter defines the backend boundary used by the mutation sequencer.
//
// Each backend (REST API, column-family database, search index, event
// queue, event file) is reached through a Dispatcher. The runner owns
// dispatcher lifecycle; migrations provide configuration only.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pithecene-io/lmsmig/types"
)

// Dispatcher sends one fully built request to a backend.
// Implementations must respect context cancellation and deadlines.
type Dispatcher interface {
	// Dispatch sends req and returns the backend response.
	// A non-nil error marks the attempt as failed.
	Dispatch(ctx context.Context, req types.Request) (types.Response, error)

	// Close releases dispatcher resources.
	Close() error
}

// WindowAware is implemented by dispatchers that group the requests of one
// runner window, e.g. a database session opened per window.
type WindowAware interface {
	BeginWindow(ctx context.Context) error
	EndWindow(ctx context.Context) error
}

// ErrNoDispatcher is returned when a request names a backend with no
// registered dispatcher.
var ErrNoDispatcher = errors.New("no dispatcher for backend")

// Set maps each backend to its dispatcher.
type Set map[types.Backend]Dispatcher

// Get returns the dispatcher for backend.
func (s Set) Get(backend types.Backend) (Dispatcher, error) {
	d, ok := s[backend]
	if !ok || d == nil {
		return nil, fmt.Errorf("%w %q", ErrNoDispatcher, backend)
	}
	return d, nil
}

// WindowAware returns the dispatchers implementing WindowAware, ordered by
// backend name.
func (s Set) WindowAware() []WindowAware {
	backends := make([]string, 0, len(s))
	for b := range s {
		backends = append(backends, string(b))
	}
	sort.Strings(backends)

	var out []WindowAware
	for _, b := range backends {
		if w, ok := s[types.Backend(b)].(WindowAware); ok {
			out = append(out, w)
		}
	}
	return out
}

// Close closes every dispatcher and joins their errors.
func (s Set) Close() error {
	var errs []error
	for b, d := range s {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b, err))
		}
	}
	return errors.Join(errs...)
}
