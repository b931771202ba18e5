// Package tui provides Bubble Tea views of a finished run report.
//
// TUI rules:
//   - TUI is opt-in only (--tui flag)
//   - TUI is read-only (report command only)
//   - TUI renders the same RunReport as the json/yaml/table output
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lmsmig/report"
	"github.com/pithecene-io/lmsmig/types"
)

// Colors carry the record and step states: done, skipped, failed, plus
// neutral counts.
var (
	accentColor  = lipgloss.Color("#7C3AED")
	doneColor    = lipgloss.Color("#10B981")
	skippedColor = lipgloss.Color("#F59E0B")
	failedColor  = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	countColor   = lipgloss.Color("#3B82F6")
	textColor    = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)
	HelpStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)

	DoneStyle    = lipgloss.NewStyle().Foreground(doneColor)
	SkippedStyle = lipgloss.NewStyle().Foreground(skippedColor)
	FailedStyle  = lipgloss.NewStyle().Foreground(failedColor)

	// FailureBoxStyle frames the failed-step table.
	FailureBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// Counter boxes of the summary view; the border takes the counter's color.
	counterBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)
	counterLabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Align(lipgloss.Center)
	counterValueStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
)

// OutcomeStyle returns the style of a run outcome.
func OutcomeStyle(outcome string) lipgloss.Style {
	switch report.Outcome(outcome) {
	case report.OutcomeCompleted:
		return DoneStyle
	case report.OutcomeWithFailures:
		return SkippedStyle
	case report.OutcomeCanceled:
		return FailedStyle
	default:
		return ValueStyle
	}
}

// StepStatusStyle returns the style of an archived step status.
func StepStatusStyle(status string) lipgloss.Style {
	switch types.StepStatus(status) {
	case types.StepSucceeded:
		return DoneStyle
	case types.StepFailed:
		return FailedStyle
	default:
		return ValueStyle
	}
}
