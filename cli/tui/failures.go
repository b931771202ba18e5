package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lmsmig/report"
)

// FailuresModel lists a run's failed steps in a scrollable table.
type FailuresModel struct {
	report   *report.RunReport
	table    table.Model
	quitting bool
}

// NewFailuresModel creates a failures model.
func NewFailuresModel(rep *report.RunReport) FailuresModel {
	rows := make([]table.Row, 0, len(rep.Failures))
	for _, f := range rep.Failures {
		status := ""
		if f.Status != 0 {
			status = strconv.Itoa(f.Status)
		}
		rows = append(rows, table.Row{strconv.Itoa(f.Row), f.Record, f.Step, f.Backend, status, f.Error})
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Row", Width: 6},
			{Title: "Record", Width: 24},
			{Title: "Step", Width: 22},
			{Title: "Backend", Width: 8},
			{Title: "Status", Width: 6},
			{Title: "Error", Width: 48},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(max(len(rows), 1), 20)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(textColor).Background(accentColor)
	t.SetStyles(styles)

	return FailuresModel{report: rep, table: t}
}

// Init implements tea.Model.
func (m FailuresModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m FailuresModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m FailuresModel) View() string {
	if m.quitting {
		return ""
	}
	title := TitleStyle.Render(fmt.Sprintf("Failed steps (%d)", len(m.report.Failures)))
	if len(m.report.Failures) == 0 {
		return title + "\n" + DoneStyle.Render("No failed steps") + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
	}

	body := m.table.View()
	if row := m.table.Cursor(); row >= 0 && row < len(m.report.Failures) {
		body += "\n\n" + LabelStyle.Render("Request:") + " " + ValueStyle.Render(m.report.Failures[row].Request)
	}
	help := HelpStyle.Render("↑/↓ to move, q or Ctrl+C to quit")
	return title + "\n" + FailureBoxStyle.Render(body) + "\n" + help
}
