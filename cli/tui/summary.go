package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lmsmig/report"
)

// SummaryModel shows a run's counters as stat boxes.
type SummaryModel struct {
	report   *report.RunReport
	width    int
	height   int
	quitting bool
}

// NewSummaryModel creates a summary model.
func NewSummaryModel(rep *report.RunReport) SummaryModel {
	return SummaryModel{report: rep}
}

// Init implements tea.Model.
func (m SummaryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m SummaryModel) View() string {
	if m.quitting {
		return ""
	}
	r := m.report

	var b strings.Builder
	title := fmt.Sprintf("%s %s", r.Migration, r.Phase)
	if r.DryRun {
		title += " (dry run)"
	}
	b.WriteString(TitleStyle.Render(strings.TrimSpace(title)))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Run ID", r.RunID},
		{"Outcome", string(r.Outcome)},
		{"Input", r.Input},
		{"Started At", r.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
	}
	for _, row := range rows {
		value := ValueStyle.Render(row[1])
		if row[0] == "Outcome" {
			value = OutcomeStyle(row[1]).Render(row[1])
		}
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), value))
	}
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		counterBox("Rows", r.Rows.Seen, countColor),
		counterBox("Rows Skipped", r.Rows.Skipped, skippedColor),
		counterBox("Done", int64(r.Records.Done), doneColor),
		counterBox("Missing IDs", r.Records.Missing, skippedColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		counterBox("Steps OK", r.Steps.Succeeded, doneColor),
		counterBox("Steps Failed", r.Steps.Failed, failedColor),
		counterBox("Windows", int64(r.Records.Windows), countColor),
		counterBox("Not Started", int64(r.Records.Pending), mutedColor),
	))

	if len(r.MissingKeys) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Missing identifiers"))
		b.WriteString("\n")
		kinds := make([]string, 0, len(r.MissingKeys))
		for k := range r.MissingKeys {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(fmt.Sprintf("%s (%d):", k, len(r.MissingKeys[k]))),
				ValueStyle.Render(strings.Join(r.MissingKeys[k], ", "))))
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func counterBox(label string, value int64, color lipgloss.Color) string {
	valueStr := counterValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, counterLabelStyle.Render(label))
	return counterBoxStyle.BorderForeground(color).Render(content)
}
