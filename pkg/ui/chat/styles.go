package chat

import "github.com/charmbracelet/lipgloss"

type palette struct {
	ink       lipgloss.Color
	paper     lipgloss.Color
	brand     lipgloss.Color
	rule      lipgloss.Color
	user      lipgloss.Color
	assistant lipgloss.Color
	note      lipgloss.Color
	danger    lipgloss.Color
	muted     lipgloss.Color
}

var defaultPalette = palette{
	ink:       lipgloss.Color("16"),
	paper:     lipgloss.Color("230"),
	brand:     lipgloss.Color("88"),
	rule:      lipgloss.Color("130"),
	user:      lipgloss.Color("214"),
	assistant: lipgloss.Color("44"),
	note:      lipgloss.Color("109"),
	danger:    lipgloss.Color("203"),
	muted:     lipgloss.Color("244"),
}

type theme struct {
	header         lipgloss.Style
	headerMeta     lipgloss.Style
	divider        lipgloss.Style
	userBox        lipgloss.Style
	userTitle      lipgloss.Style
	assistantBox   lipgloss.Style
	assistantTitle lipgloss.Style
	noteBox        lipgloss.Style
	noteTitle      lipgloss.Style
	errorBox       lipgloss.Style
	errorTitle     lipgloss.Style
	status         lipgloss.Style
	statusBusy     lipgloss.Style
	statusErr      lipgloss.Style
	hint           lipgloss.Style
	inputLabel     lipgloss.Style
	input          lipgloss.Style
	viewport       lipgloss.Style
}

// box and title render one transcript card in accent over background bg.
func box(border lipgloss.Border, accent lipgloss.Color, bg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(border).BorderForeground(accent).Background(bg).Padding(0, 1)
}

func title(fg lipgloss.Color, bg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(fg).Background(bg).Padding(0, 1)
}

func bold(fg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(fg)
}

func newTheme(p palette) theme {
	return theme{
		header:         title(p.paper, p.brand),
		headerMeta:     lipgloss.NewStyle().Foreground(lipgloss.Color("223")),
		divider:        lipgloss.NewStyle().Foreground(p.rule),
		userBox:        box(lipgloss.DoubleBorder(), p.user, lipgloss.Color("235")),
		userTitle:      title(p.ink, p.user),
		assistantBox:   box(lipgloss.DoubleBorder(), p.assistant, lipgloss.Color("234")),
		assistantTitle: title(p.ink, p.assistant),
		noteBox:        box(lipgloss.RoundedBorder(), p.note, lipgloss.Color("236")).Foreground(lipgloss.Color("252")),
		noteTitle:      title(p.ink, p.note),
		errorBox:       box(lipgloss.DoubleBorder(), p.danger, lipgloss.Color("52")).Foreground(p.danger),
		errorTitle:     title(lipgloss.Color("231"), lipgloss.Color("160")),
		status:         bold(lipgloss.Color("250")),
		statusBusy:     bold(lipgloss.Color("222")),
		statusErr:      bold(p.danger),
		hint:           lipgloss.NewStyle().Foreground(p.muted),
		inputLabel:     bold(lipgloss.Color("229")),
		input:          box(lipgloss.RoundedBorder(), lipgloss.Color("173"), lipgloss.Color("236")),
		viewport:       box(lipgloss.ThickBorder(), p.rule, lipgloss.Color("233")),
	}
}
