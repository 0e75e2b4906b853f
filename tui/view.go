package tui

import (
	"fmt"
	"strings"

	"github.com/richinex/skein/timeline"
)

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.title.Render("skein"))
	b.WriteString("  ")
	if m.streaming {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(m.theme.status.Render(m.status))
	b.WriteString("\n\n")

	b.WriteString(m.transcript.View())
	b.WriteString("\n")

	if m.errText != "" {
		b.WriteString(m.theme.errText.Render("✗ " + m.errText))
		b.WriteString("\n")
	}
	if len(m.interrupts) > 0 {
		b.WriteString(m.renderInterrupts())
	}

	b.WriteString(m.theme.inputFrame.Render(m.input.View()))
	return b.String()
}

// refreshTranscript rebuilds the viewport content from the current steps
// and visible answer text.
func (m *Model) refreshTranscript() {
	var b strings.Builder

	for _, turn := range m.prior {
		if turn.Role == "user" {
			b.WriteString(m.theme.user.Render("you ") + turn.Content)
		} else {
			b.WriteString(m.theme.answer.Render(turn.Content))
		}
		b.WriteString("\n\n")
	}

	if m.cur != nil {
		snap := m.cur.Snapshot()
		if snap.UserText != "" {
			b.WriteString(m.theme.user.Render("you ") + snap.UserText)
			b.WriteString("\n\n")
		}
	}

	for _, step := range m.steps {
		b.WriteString(m.renderStep(step))
	}
	if len(m.steps) > 0 {
		b.WriteString("\n")
	}

	if m.visible != "" {
		b.WriteString(m.theme.answer.Render(m.visible))
		b.WriteString("\n")
	}

	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

func (m *Model) renderStep(step timeline.Step) string {
	var marker string
	var style = m.theme.stepDone
	switch step.Status {
	case timeline.StatusPending:
		marker, style = "○", m.theme.stepPending
	case timeline.StatusInProgress:
		marker, style = m.spinner.View(), m.theme.stepActive
	case timeline.StatusFailed:
		marker, style = "✗", m.theme.stepFailed
	default:
		marker = "●"
	}

	line := fmt.Sprintf("  %s %s\n", marker, style.Render(step.Title))
	if step.Details != nil && step.Details.Text != "" {
		line += m.theme.stepDetail.Render(truncateDetail(step.Details.Text)) + "\n"
	}
	return line
}

func (m *Model) renderInterrupts() string {
	var b strings.Builder
	b.WriteString(m.theme.interrupt.Render("⚠ run paused for approval"))
	b.WriteString("\n")
	for _, interrupt := range m.interrupts {
		if q, ok := interrupt["question"].(string); ok && q != "" {
			b.WriteString("  " + q + "\n")
		} else if action, ok := interrupt["action"].(string); ok {
			b.WriteString("  action: " + action + "\n")
		}
	}
	b.WriteString(m.theme.interruptKey.Render("  accept | ignore | respond <text> | edit <action> <json>"))
	b.WriteString("\n")
	return b.String()
}

func truncateDetail(text string) string {
	const maxDetail = 160
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) <= maxDetail {
		return string(runes)
	}
	return string(runes[:maxDetail]) + "…"
}
