package cmd

import "github.com/urfave/cli/v2"

// Commands returns every lmsmig command in help order.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		CourseBatchCommand(),
		EnrolmentCommand(),
		FrameworkCommand(),
		ReportCommand(),
		VersionCommand(commit),
	}
}
