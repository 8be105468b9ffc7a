package ui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = "154" // lime
	colorDim    = "245"
	colorBorder = "238"
	colorError  = "196"
	colorWarn   = "220"
)

// Styles holds the lipgloss styles used by the TUI renderer.
type Styles struct {
	Title   lipgloss.Style
	Stage   lipgloss.Style
	Label   lipgloss.Style
	Counts  lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Done    lipgloss.Style
	Panel   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)),
		Counts:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)),
		Done:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1),
	}
}
