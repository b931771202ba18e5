package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lmsmig/report"
)

// View types.
const (
	ViewSummary  = "report_summary"
	ViewFailures = "report_failures"
)

// Run starts the TUI for a view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	rep, ok := data.(*report.RunReport)
	if !ok {
		return fmt.Errorf("TUI %s needs a run report, got %T", viewType, data)
	}

	var model tea.Model
	switch viewType {
	case ViewSummary:
		model = NewSummaryModel(rep)
	case ViewFailures:
		model = NewFailuresModel(rep)
	}
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewSummary, ViewFailures}
}

// RenderStatic renders a view without starting a program (for fallback
// and tests).
func RenderStatic(viewType string, rep *report.RunReport) string {
	var view string
	switch viewType {
	case ViewSummary:
		view = NewSummaryModel(rep).View()
	case ViewFailures:
		view = NewFailuresModel(rep).View()
	default:
		view = fmt.Sprintf("Unknown view type: %s", viewType)
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(view)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
