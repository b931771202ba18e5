package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/archive"
	"github.com/pithecene-io/lmsmig/cli/config"
	"github.com/pithecene-io/lmsmig/cli/render"
	"github.com/pithecene-io/lmsmig/cli/tui"
	"github.com/pithecene-io/lmsmig/report"
)

// Report views.
const (
	viewSummary  = "summary"
	viewFailures = "failures"
)

// ReportCommand returns the report command. It shows a run report from a
// --report file or from the run archive and never contacts a backend.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show a run report from a report file or the run archive",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Run report JSON written by --report",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Read this run from the archive (latest run when empty and --file is not set)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file holding the archive section",
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "steps",
				Usage: "List the run's archived step results instead of the report",
			},
			&cli.StringFlag{
				Name:  "view",
				Usage: "TUI view: summary or failures",
				Value: viewSummary,
			},
		}, ReadOnlyFlags()...),
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("steps") {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported with --steps", exitError)
		}
		reader, err := archiveReader(c)
		if err != nil {
			return err
		}
		steps, err := reader.Steps(c.Context, c.String("run-id"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot read archived steps: %v", err), exitError)
		}
		return r.RenderSteps(steps)
	}

	rep, err := loadReport(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		view, err := tuiView(c.String("view"))
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		return r.RenderTUI(view, rep)
	}
	return r.RenderReport(rep)
}

func loadReport(c *cli.Context) (*report.RunReport, error) {
	if path := c.String("file"); path != "" {
		rep, err := report.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, cli.Exit(fmt.Sprintf("report file not found: %s", path), exitConfigError)
			}
			return nil, cli.Exit(err.Error(), exitError)
		}
		return rep, nil
	}

	reader, err := archiveReader(c)
	if err != nil {
		return nil, err
	}
	rep, err := reader.LatestReport(c.Context, c.String("run-id"))
	if err != nil {
		if errors.Is(err, archive.ErrNoReport) {
			return nil, cli.Exit(err.Error(), exitError)
		}
		return nil, cli.Exit(fmt.Sprintf("cannot read archive: %v", err), exitError)
	}
	return rep, nil
}

func archiveReader(c *cli.Context) (*archive.Reader, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, exitFor(err)
	}
	if cfg.Archive == nil {
		return nil, cli.Exit("no archive configured: pass --file or add an archive section", exitConfigError)
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	factory, err := archive.NewFactory(ctx, storageConfig(cfg.Archive))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	reader, err := archive.NewReader(cfg.Archive.Dataset, factory)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitError)
	}
	return reader, nil
}

func tuiView(name string) (string, error) {
	switch name {
	case "", viewSummary:
		return tui.ViewSummary, nil
	case viewFailures:
		return tui.ViewFailures, nil
	default:
		return "", fmt.Errorf("invalid view: %q (must be summary or failures)", name)
	}
}
