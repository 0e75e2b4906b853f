package tui

import "github.com/charmbracelet/lipgloss"

// theme holds the lipgloss styles for the chat surface.
type theme struct {
	title        lipgloss.Style
	status       lipgloss.Style
	errText      lipgloss.Style
	user         lipgloss.Style
	answer       lipgloss.Style
	stepPending  lipgloss.Style
	stepActive   lipgloss.Style
	stepDone     lipgloss.Style
	stepFailed   lipgloss.Style
	stepDetail   lipgloss.Style
	interrupt    lipgloss.Style
	interruptKey lipgloss.Style
	inputFrame   lipgloss.Style
}

func newTheme() theme {
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#8b8fa3")
	amber := lipgloss.Color("#ffd166")
	red := lipgloss.Color("#ff5d5d")

	return theme{
		title:        lipgloss.NewStyle().Foreground(mint).Bold(true),
		status:       lipgloss.NewStyle().Foreground(muted),
		errText:      lipgloss.NewStyle().Foreground(red).Bold(true),
		user:         lipgloss.NewStyle().Foreground(pink).Bold(true),
		answer:       lipgloss.NewStyle(),
		stepPending:  lipgloss.NewStyle().Foreground(muted),
		stepActive:   lipgloss.NewStyle().Foreground(amber),
		stepDone:     lipgloss.NewStyle().Foreground(mint),
		stepFailed:   lipgloss.NewStyle().Foreground(red),
		stepDetail:   lipgloss.NewStyle().Foreground(muted).PaddingLeft(4),
		interrupt:    lipgloss.NewStyle().Foreground(amber).Bold(true),
		interruptKey: lipgloss.NewStyle().Foreground(mint),
		inputFrame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
	}
}
