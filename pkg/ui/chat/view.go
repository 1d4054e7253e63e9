package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"grip/pkg/engine"
)

const headerTitle = "📟 grip terminal"

func (m *model) View() string {
	if !m.sized {
		m.layout()
	}
	if m.oneShot {
		return m.oneShotView()
	}

	inner := m.width - 2
	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	switch {
	case m.failure != "":
		status = m.theme.statusErr.Render("🚨 last request failed - try again")
	case m.waiting:
		status = m.theme.statusBusy.Render(m.spinner.View() + " ⚡ waiting for the gateway...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.header.Width(inner).Render(headerTitle),
		m.theme.headerMeta.Render(m.headerLine()),
		m.theme.divider.Width(inner).Render(strings.Repeat("═", max(8, inner))),
		m.theme.viewport.Width(inner).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(inner).Render(m.input.View()),
	)
}

func (m *model) headerLine() string {
	turns := 0
	for _, e := range m.transcript {
		if e.role == roleUser {
			turns++
		}
	}

	return fmt.Sprintf("provider:%s · model:%s · turns:%d · tokens(in/out/total):%d/%d/%d",
		orNA(m.info.Provider), orNA(m.info.Model), turns, m.usage.in, m.usage.out, m.usage.total())
}

// layout sizes the viewport and input to the terminal and re-renders.
func (m *model) layout() {
	width := max(m.width-6, 50)
	chrome := 10
	if m.oneShot {
		chrome = 6
	}

	m.viewport.Width = width
	m.viewport.Height = max(m.height-chrome, 8)
	m.input.Width = width - 2
	m.render(false)
}

// render redraws the transcript. The viewport stays pinned to the newest
// card while following; otherwise the scroll offset is kept.
func (m *model) render(jump bool) {
	offset := m.viewport.YOffset

	cards := make([]string, len(m.transcript))
	for i, e := range m.transcript {
		cards[i] = m.card(e, m.viewport.Width)
	}
	m.viewport.SetContent(strings.Join(cards, "\n\n"))

	if jump || m.follow {
		m.follow = true
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(min(offset, max(m.viewport.TotalLineCount()-m.viewport.Height, 0)))
}

func (m *model) card(e entry, width int) string {
	var label string
	var heading, body lipgloss.Style
	text := strings.TrimSpace(e.text)

	switch e.role {
	case roleUser:
		label, heading, body = "you", m.theme.userTitle, m.theme.userBox
	case roleAgent:
		label, heading, body = "grip", m.theme.assistantTitle, m.theme.assistantBox
		if e.result != nil && e.result.TotalTokens() > 0 {
			text += "\n\n" + m.theme.hint.Render(usageLine(*e.result))
		}
	case roleNote:
		label, heading, body = "info", m.theme.noteTitle, m.theme.noteBox
	default:
		label, heading, body = "ERROR", m.theme.errorTitle, m.theme.errorBox
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		heading.Render("▛▚ ["+label+"] ▞▜"),
		body.Width(width).Render(text),
	)
}

func (m *model) oneShotView() string {
	width := max(40, m.width-6)
	parts := []string{m.card(entry{role: roleUser, text: m.prompt}, width)}

	if m.waiting {
		parts = append(parts, m.theme.statusBusy.Render(m.spinner.View()+" ⚡ sending prompt and waiting for answer..."))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	for i := len(m.transcript) - 1; i >= 0; i-- {
		if e := m.transcript[i]; e.role != roleUser {
			parts = append(parts, m.card(e, width))
			break
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func usageLine(result engine.RunResult) string {
	line := fmt.Sprintf("iterations: %d · tokens in/out/total: %d/%d/%d",
		result.Iterations, result.PromptTokens, result.CompletionTokens, result.TotalTokens())
	if len(result.ToolCallsMade) > 0 {
		line += " · tools: " + strings.Join(result.ToolCallsMade, ", ")
	}
	return line
}

func orNA(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return "n/a"
	}
	return value
}
