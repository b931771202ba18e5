// Package cmd provides CLI commands for the lmsmig binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for the report command.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (report only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// Shared flags for migration commands. Unset flags fall back to the
// config file.
var (
	// ConfigFlag locates the YAML config.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file",
		Value:   "config.yaml",
	}

	// DryRunFlag overrides the config dry_run value.
	DryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Log every request instead of sending it (overrides config dry_run, which defaults to true)",
	}

	// BatchSizeFlag overrides the config batch_size value.
	BatchSizeFlag = &cli.IntFlag{
		Name:  "batch-size",
		Usage: "Records per window (overrides config batch_size)",
	}

	// BatchDelayFlag overrides the config batch_delay value.
	BatchDelayFlag = &cli.DurationFlag{
		Name:  "batch-delay",
		Usage: "Pause between windows (overrides config batch_delay)",
	}

	// ReportFlag writes the JSON run report.
	ReportFlag = &cli.StringFlag{
		Name:  "report",
		Usage: "Write the JSON run report to this path (- for stderr)",
	}

	// StrictFlag turns step failures into exit code 3.
	StrictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "Exit with code 3 when any step failed",
	}
)

// RunFlags returns the shared migration flags followed by extra.
func RunFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		ConfigFlag,
		DryRunFlag,
		BatchSizeFlag,
		BatchDelayFlag,
		ReportFlag,
		StrictFlag,
	}
	return append(flags, extra...)
}

func inputFlag(usage string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    usage,
		Required: true,
	}
}

func outputFlag(usage string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "output",
		Aliases:  []string{"o"},
		Usage:    usage,
		Required: true,
	}
}

func templateFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "template",
		Usage: "Certificate event template JSON (default: config events.template)",
	}
}

func eventsFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "events",
		Usage: "Certificate events JSONL file (default: config events.output)",
	}
}

// resolveString returns the flag value if set on the command line,
// otherwise fallback.
func resolveString(c *cli.Context, name, fallback string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if fallback != "" {
		return fallback
	}
	return c.String(name)
}

// resolveInt returns the flag value if set on the command line,
// otherwise fallback.
func resolveInt(c *cli.Context, name string, fallback int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return fallback
}

// resolveBool returns the flag value if set on the command line,
// otherwise fallback.
func resolveBool(c *cli.Context, name string, fallback bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fallback
}

// resolveDuration returns the flag value if set on the command line,
// otherwise fallback.
func resolveDuration(c *cli.Context, name string, fallback time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	return fallback
}
