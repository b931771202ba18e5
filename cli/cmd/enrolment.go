package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/migration/enrolment"
	"github.com/pithecene-io/lmsmig/types"
)

const resultsUsage = "Enrolment results CSV written by generate"

// EnrolmentCommand returns the enrolment command with one subcommand per
// phase.
func EnrolmentCommand() *cli.Command {
	return &cli.Command{
		Name:  enrolment.Name,
		Usage: "Backfill course completions and re-issue certificates",
		Subcommands: []*cli.Command{
			enrolmentPhase(enrolment.PhaseGenerate,
				"Resolve learners, courses and batches into a results CSV",
				RunFlags(inputFlag("Completions CSV (email, Groupe, Codes, cours complétés le)"), outputFlag("Results CSV to write")),
				phase{sections: []config.Section{config.SectionAPI, config.SectionUser}, run: runGenerate}),
			enrolmentPhase(enrolment.PhaseUpdate,
				"Write completion dates to the enrolment table",
				RunFlags(outputFlag(resultsUsage)),
				phase{
					sections: []config.Section{config.SectionAPI, config.SectionCassandra},
					backends: []types.Backend{types.BackendCQL},
					run:      runUpdate,
				}),
			enrolmentPhase(enrolment.PhaseDeleteIndex,
				"Delete indexed certificates of every results row",
				RunFlags(outputFlag(resultsUsage)),
				phase{
					sections: []config.Section{config.SectionAPI, config.SectionIndex},
					backends: []types.Backend{types.BackendIndex},
					run:      runDeleteIndex,
				}),
			enrolmentPhase(enrolment.PhaseGenerateEvents,
				"Write one certificate event per results row to a JSONL file",
				RunFlags(outputFlag(resultsUsage), templateFlag(), eventsFlag()),
				phase{
					sections:   []config.Section{config.SectionAPI},
					backends:   []types.Backend{types.BackendFile},
					fileAlways: true,
					run:        runGenerateEvents,
				}),
			enrolmentPhase(enrolment.PhasePushEvents,
				"Publish a JSONL events file to the certificate queue",
				RunFlags(eventsFlag()),
				phase{
					sections: []config.Section{config.SectionAPI, config.SectionQueue},
					backends: []types.Backend{types.BackendQueue},
					run:      runPushEvents,
				}),
			enrolmentPhase(enrolment.PhaseAll,
				"Delete indexed certificates, write and publish events per results row",
				RunFlags(outputFlag(resultsUsage), templateFlag(), eventsFlag()),
				phase{
					sections: []config.Section{config.SectionAPI, config.SectionIndex, config.SectionQueue},
					backends: []types.Backend{types.BackendIndex, types.BackendFile, types.BackendQueue},
					run:      runEnrolmentAll,
				}),
		},
	}
}

func enrolmentPhase(name, usage string, flags []cli.Flag, p phase) *cli.Command {
	p.migration = enrolment.Name
	p.name = name
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(c *cli.Context) error {
			return execute(c, p)
		},
	}
}

// newEnrolment builds the migration from config. The event template is
// only loaded when withTemplate is set.
func newEnrolment(s *session, withTemplate bool) (*enrolment.Migration, error) {
	opts := enrolment.Options{
		Client:         s.client(),
		Keyspace:       s.cfg.Cassandra.Keyspace,
		Table:          s.cfg.Cassandra.UserEnrolmentsTable,
		Index:          s.cfg.Index.Name,
		Topic:          s.cfg.Queue.Topic,
		QueueBatchSize: s.cfg.Queue.BatchSize,
		EventsPath:     s.events,
	}
	if withTemplate {
		path := resolveString(s.c, "template", s.cfg.Events.Template)
		if path == "" {
			return nil, types.Fatalf("an event template is required: set --template or events.template")
		}
		tmpl, err := enrolment.LoadEventTemplate(path)
		if err != nil {
			return nil, err
		}
		opts.Template = tmpl
	}
	return enrolment.New(opts), nil
}

func runGenerate(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, false)
	if err != nil {
		return nil, err
	}
	return m.Generate(ctx, s.env, s.c.String("input"), s.c.String("output"))
}

func runUpdate(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, false)
	if err != nil {
		return nil, err
	}
	return m.Update(ctx, s.env, s.c.String("output"))
}

func runDeleteIndex(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, false)
	if err != nil {
		return nil, err
	}
	return m.DeleteIndex(ctx, s.env, s.c.String("output"))
}

func runGenerateEvents(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, true)
	if err != nil {
		return nil, err
	}
	return m.GenerateEvents(ctx, s.env, s.c.String("output"))
}

func runPushEvents(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, false)
	if err != nil {
		return nil, err
	}
	return m.PushEvents(ctx, s.env, s.events)
}

func runEnrolmentAll(ctx context.Context, s *session) (*migration.Result, error) {
	m, err := newEnrolment(s, true)
	if err != nil {
		return nil, err
	}
	return m.All(ctx, s.env, s.c.String("output"))
}
