package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lmsmig/cli/render"
	"github.com/pithecene-io/lmsmig/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	ReportVersion string `json:"report_version"`
	Commit        string `json:"commit"`
}

// VersionCommand returns the version command.
// It must not read the config or contact any backend.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		// TUI not supported for version command
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitError)
		}

		resp := VersionResponse{
			Version:       types.Version,
			ReportVersion: types.ReportVersion,
			Commit:        commit,
		}
		return r.RenderFields(resp, []render.Field{
			{Label: "version", Value: resp.Version},
			{Label: "report_version", Value: resp.ReportVersion},
			{Label: "commit", Value: resp.Commit},
		})
	}
}
