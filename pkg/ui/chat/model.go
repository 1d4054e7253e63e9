package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"grip/pkg/channel"
	"grip/pkg/engine"
)

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Provider string
	Model    string
}

// SubmitFunc hands one user line to the gateway.
type SubmitFunc func(ctx context.Context, text string) error

type role int

const (
	roleUser role = iota
	roleAgent
	roleNote
	roleError
)

type entry struct {
	role   role
	text   string
	result *engine.RunResult
}

// replyMsg carries an outbound reply from the bus into the program.
type replyMsg struct {
	result engine.RunResult
}

type submitErrMsg struct {
	err error
}

// tally accumulates token usage across the session.
type tally struct {
	in, out int64
}

func (t tally) total() int64 { return t.in + t.out }

type keyMap struct {
	quit, send, pageUp, pageDown, top, bottom key.Binding
}

var keys = keyMap{
	quit:     key.NewBinding(key.WithKeys("ctrl+c", "esc")),
	send:     key.NewBinding(key.WithKeys("enter")),
	pageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+b", "alt+up", "ctrl+up")),
	pageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+f", "alt+down", "ctrl+down")),
	top:      key.NewBinding(key.WithKeys("home")),
	bottom:   key.NewBinding(key.WithKeys("end")),
}

const wheelStep = 3

type model struct {
	ctx     context.Context
	submit  SubmitFunc
	oneShot bool
	prompt  string
	info    RuntimeInfo

	theme    theme
	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model

	transcript []entry
	usage      tally
	width      int
	height     int
	sized      bool
	waiting    bool
	failure    string
	follow     bool
}

func newModel(ctx context.Context, submit SubmitFunc, oneShot bool, prompt string, info RuntimeInfo) *model {
	th := newTheme(defaultPalette)

	spin := spinner.New(spinner.WithSpinner(spinner.Points), spinner.WithStyle(th.statusBusy))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Ask anything, or /help"
	in.Focus()

	return &model{
		ctx:      ctx,
		submit:   submit,
		oneShot:  oneShot,
		prompt:   strings.TrimSpace(prompt),
		info:     info,
		theme:    th,
		spinner:  spin,
		input:    in,
		viewport: viewport.New(80, 12),
		width:    100,
		height:   28,
		follow:   true,
	}
}

func (m *model) Init() tea.Cmd {
	if m.oneShot && m.prompt != "" {
		return m.send(m.prompt)
	}

	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.sized = true
		return m, nil
	case tea.MouseMsg:
		if !m.oneShot {
			m.scrollWheel(msg)
		}
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, keys.quit) {
			return m, tea.Quit
		}
		if m.oneShot || m.scrollKey(msg) {
			return m, nil
		}
		if key.Matches(msg, keys.send) {
			return m, m.handleEnter()
		}
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case replyMsg:
		m.finish(entry{role: roleAgent, text: msg.result.Response, result: &msg.result}, "")
		if msg.result.TotalTokens() > 0 {
			m.usage.in += msg.result.PromptTokens
			m.usage.out += msg.result.CompletionTokens
		}
		return m, m.afterReply()
	case submitErrMsg:
		m.finish(entry{role: roleError, text: msg.err.Error()}, msg.err.Error())
		return m, m.afterReply()
	}

	if m.oneShot {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) finish(e entry, failure string) {
	m.waiting = false
	m.failure = failure
	m.transcript = append(m.transcript, e)
	m.render(false)
}

func (m *model) afterReply() tea.Cmd {
	if m.oneShot {
		return tea.Quit
	}
	return nil
}

func (m *model) handleEnter() tea.Cmd {
	if m.waiting {
		return nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	if isExitCommand(text) {
		return tea.Quit
	}

	// /help is answered locally.
	if name, _, ok := channel.ParseCommand(text); ok {
		switch name {
		case "help":
			m.note(text, channel.HelpText())
			return nil
		case "new", "clear":
			m.note(text, "Session reset.")
			return submitCmd(m.ctx, m.submit, text)
		}
	}

	return m.send(text)
}

func (m *model) note(typed, reply string) {
	m.transcript = append(m.transcript, entry{role: roleUser, text: typed}, entry{role: roleNote, text: reply})
	m.render(true)
}

// send records text as a user turn and waits for the reply.
func (m *model) send(text string) tea.Cmd {
	m.failure = ""
	m.waiting = true
	m.transcript = append(m.transcript, entry{role: roleUser, text: text})
	m.render(true)

	return tea.Batch(m.spinner.Tick, submitCmd(m.ctx, m.submit, text))
}

func (m *model) scrollKey(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, keys.pageUp):
		m.viewport.PageUp()
	case key.Matches(msg, keys.pageDown):
		m.viewport.PageDown()
	case key.Matches(msg, keys.top):
		m.viewport.GotoTop()
	case key.Matches(msg, keys.bottom):
		m.viewport.GotoBottom()
	default:
		return false
	}

	m.follow = m.viewport.AtBottom()
	return true
}

// scrollWheel scrolls on wheel events and reports whether it did.
func (m *model) scrollWheel(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(wheelStep)
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(wheelStep)
	default:
		return false
	}

	m.follow = m.viewport.AtBottom()
	return true
}

func submitCmd(ctx context.Context, submit SubmitFunc, text string) tea.Cmd {
	return func() tea.Msg {
		if err := submit(ctx, text); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	}
	return false
}
