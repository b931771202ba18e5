package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/migration"
	"github.com/pithecene-io/lmsmig/migration/framework"
	"github.com/pithecene-io/lmsmig/types"
)

var frameworkUsage = map[string]string{
	framework.PhaseSetup:        "Create frameworks and their categories",
	framework.PhaseTerms:        "Create terms and record their ids in the term ledger",
	framework.PhaseAssociations: "Link terms to their children from the term ledger",
	framework.PhasePublish:      "Publish frameworks",
	framework.PhaseAll:          "Run setup, terms, associations and publish",
}

// FrameworkCommand returns the framework command with one subcommand per
// phase.
func FrameworkCommand() *cli.Command {
	subs := make([]*cli.Command, 0, len(framework.Phases))
	for _, name := range framework.Phases {
		p := phase{
			migration: framework.Name,
			name:      name,
			sections:  []config.Section{config.SectionAPI, config.SectionFramework},
			run:       runFramework(name),
		}
		subs = append(subs, &cli.Command{
			Name:  name,
			Usage: frameworkUsage[name],
			Flags: RunFlags(inputFlag("Skill map CSV (domain, competency, sub-competency and observable element columns)")),
			Action: func(c *cli.Context) error {
				return execute(c, p)
			},
		})
	}
	return &cli.Command{
		Name:        framework.Name,
		Usage:       "Bootstrap skill map frameworks, categories and terms",
		Subcommands: subs,
	}
}

func runFramework(name string) func(context.Context, *session) (*migration.Result, error) {
	return func(ctx context.Context, s *session) (*migration.Result, error) {
		m, err := framework.New(framework.Options{
			Builder:    s.builder,
			Categories: s.cfg.Framework.Categories,
			StateFile:  s.cfg.Framework.StateFile,
		})
		if err != nil {
			return nil, &types.FatalConfigError{Msg: "invalid framework section", Err: err}
		}
		return m.Run(ctx, s.env, name, s.c.String("input"))
	}
}
