package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/lms"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/migration/coursebatch"
	"github.com/pithecene-io/lmsmig/types"
)

// CourseBatchCommand returns the course-batch command.
func CourseBatchCommand() *cli.Command {
	return &cli.Command{
		Name:  coursebatch.Name,
		Usage: "Reset course batch start dates and swap their certificate template",
		Flags: RunFlags(inputFlag("Course batch CSV (Course ID, Batch ID, Start Date)")),
		Action: func(c *cli.Context) error {
			return execute(c, phase{
				migration: coursebatch.Name,
				sections: []config.Section{
					config.SectionAPI,
					config.SectionCreator,
					config.SectionCassandra,
					config.SectionCertificate,
				},
				backends: []types.Backend{types.BackendCQL},
				run:      runCourseBatch,
			})
		},
	}
}

func runCourseBatch(ctx context.Context, s *session) (*migration.Result, error) {
	cert := s.cfg.Certificate
	tmpl, err := lms.SelectTemplate(cert.Templates, cert.TemplateKey)
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "invalid certificate section", Err: err}
	}
	m, err := coursebatch.New(coursebatch.Options{
		Builder:          s.builder,
		Template:         tmpl,
		RemoveIdentifier: cert.RemoveTemplateIdentifier,
		Keyspace:         s.cfg.Cassandra.Keyspace,
		Table:            s.cfg.Cassandra.CourseBatchTable,
	})
	if err != nil {
		return nil, &types.FatalConfigError{Msg: "invalid course-batch setup", Err: err}
	}
	return m.Run(ctx, s.env, s.c.String("input"))
}
