// Package enrolment re-issues course completion certificates.
//
// The migration runs in phases over two files: the operator's input CSV
// and the results CSV that generate writes from it.
//
//	generate         input CSV → lookups → results CSV
//	update           results CSV → user_enrolments rows (conditional writes)
//	delete-index     results CSV → certificate index purge per user/batch
//	generate-events  results CSV → certificate events JSONL
//	push-events      events JSONL → certificate queue
//	all              results CSV → delete-index, emit-event, publish-queue
//
// Only complete rows reach the results file, so the later phases never
// look anything up.
package enrolment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pithecene-io/lmsmig/csvload"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/migration"
)

// Name identifies the migration in logs, metrics and reports.
const Name = "enrolment"

// Phases.
const (
	PhaseGenerate       = "generate"
	PhaseUpdate         = "update"
	PhaseDeleteIndex    = "delete-index"
	PhaseGenerateEvents = "generate-events"
	PhasePushEvents     = "push-events"
	PhaseAll            = "all"
)

// Phases lists every phase in CLI order.
var Phases = []string{PhaseGenerate, PhaseUpdate, PhaseDeleteIndex, PhaseGenerateEvents, PhasePushEvents, PhaseAll}

// Step names.
const (
	StepUpdateEnrolment = "update-enrolment"
	StepDeleteIndex     = "delete-index"
	StepEmitEvent       = "emit-event"
	StepPublishQueue    = "publish-queue"
)

// Options configures the migration. Each phase checks only the options it
// uses.
type Options struct {
	// Client runs the generate lookups.
	Client *lms.Client
	// Keyspace and Table locate the enrolment rows.
	Keyspace string
	Table    string
	// Index is the certificate search index.
	Index string
	// Topic is the queue topic or channel; empty uses the queue default.
	Topic string
	// QueueBatchSize is the push-events window size.
	QueueBatchSize int
	// Template builds certificate events.
	Template *EventTemplate
	// EventsPath is where emit-event steps write.
	EventsPath string
	// NewID returns event message ids. Defaults to a random UUID.
	NewID func() string
}

// Migration runs the enrolment phases.
type Migration struct {
	opts Options
}

// New creates the migration.
func New(opts Options) *Migration {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Migration{opts: opts}
}

var (
	errNoClient   = errors.New("enrolment: lookup client is required")
	errNoTable    = errors.New("enrolment: keyspace and table are required")
	errNoIndex    = errors.New("enrolment: index name is required")
	errNoTemplate = errors.New("enrolment: event template is required")
	errNoEvents   = errors.New("enrolment: events path is required")
)

// loadResults reads a results CSV. Column overrides apply to the operator
// input only; the results file always carries the canonical header.
func loadResults(ctx context.Context, env *migration.Env, path string, schema csvload.Schema) (*csvload.Result, error) {
	return csvload.NewLoader(env.Logger, env.Collector).Load(ctx, path, schema)
}
