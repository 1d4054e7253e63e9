package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"grip/pkg/engine"
)

func scrolledModel(t *testing.T) *model {
	t.Helper()

	m := newModel(context.Background(), nil, false, "", RuntimeInfo{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	return m
}

func TestWheelUpStopsFollowing(t *testing.T) {
	t.Parallel()

	m := scrolledModel(t)
	before := m.viewport.YOffset

	if !m.scrollWheel(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}) {
		t.Fatal("expected wheel-up to scroll")
	}
	if m.follow {
		t.Fatal("expected follow to stop after scrolling up")
	}
	if m.viewport.YOffset >= before {
		t.Fatalf("YOffset = %d, want < %d", m.viewport.YOffset, before)
	}
}

func TestWheelDownToBottomResumesFollowing(t *testing.T) {
	t.Parallel()

	m := scrolledModel(t)
	m.viewport.SetYOffset(max(0, m.viewport.TotalLineCount()-m.viewport.Height-1))
	m.follow = false

	if !m.scrollWheel(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown}) {
		t.Fatal("expected wheel-down to scroll")
	}
	if !m.viewport.AtBottom() || !m.follow {
		t.Fatalf("AtBottom = %v, follow = %v", m.viewport.AtBottom(), m.follow)
	}
}

func TestClicksDoNotScroll(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, false, "", RuntimeInfo{})
	if m.scrollWheel(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}) {
		t.Fatal("expected a click to be ignored")
	}
}

func TestPageKeysToggleFollowing(t *testing.T) {
	t.Parallel()

	m := scrolledModel(t)
	if !m.scrollKey(tea.KeyMsg{Type: tea.KeyPgUp}) || m.follow {
		t.Fatalf("pgup should scroll and stop following, follow = %v", m.follow)
	}
	if !m.scrollKey(tea.KeyMsg{Type: tea.KeyEnd}) || !m.follow {
		t.Fatalf("end should jump to bottom and follow, follow = %v", m.follow)
	}
	if m.scrollKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}) {
		t.Fatal("plain keys should reach the input")
	}
}

func TestEnterSubmitsAndRendersReply(t *testing.T) {
	var submitted []string
	submit := func(_ context.Context, text string) error {
		submitted = append(submitted, text)
		return nil
	}

	m := newModel(context.Background(), submit, false, "", RuntimeInfo{Provider: "openai", Model: "openai/gpt-5.2"})
	m.input.SetValue("  what's on today?  ")

	if cmd := m.handleEnter(); cmd == nil {
		t.Fatal("expected a command for a normal message")
	}
	if !m.waiting {
		t.Fatal("expected to wait for the reply")
	}
	if got := m.transcript[len(m.transcript)-1]; got.role != roleUser || got.text != "what's on today?" {
		t.Fatalf("last entry = %+v", got)
	}

	m.Update(replyMsg{result: engine.RunResult{
		Response:         "Standup at 10.",
		Iterations:       2,
		PromptTokens:     30,
		CompletionTokens: 5,
		ToolCallsMade:    []string{"read_file"},
	}})
	if m.waiting {
		t.Fatal("expected waiting to end after the reply")
	}
	if m.usage.total() != 35 || m.usage.in != 30 || m.usage.out != 5 {
		t.Fatalf("usage = %+v", m.usage)
	}

	view := m.View()
	if !strings.Contains(view, "tokens(in/out/total):30/5/35") {
		t.Fatal("expected header to show accumulated usage")
	}
	if !strings.Contains(view, "tools: read_file") {
		t.Fatal("expected reply card to list tool calls")
	}
}

func TestHelpIsAnsweredLocally(t *testing.T) {
	called := false
	m := newModel(context.Background(), func(context.Context, string) error {
		called = true
		return nil
	}, false, "", RuntimeInfo{})
	m.input.SetValue("/help")

	if cmd := m.handleEnter(); cmd != nil {
		t.Fatal("expected /help to need no command")
	}
	if called {
		t.Fatal("expected /help not to reach the gateway")
	}
	if got := m.transcript[len(m.transcript)-1]; got.role != roleNote || !strings.Contains(got.text, "/compact") {
		t.Fatalf("help entry = %+v", got)
	}
}

func TestSubmitErrorEndsWaiting(t *testing.T) {
	m := newModel(context.Background(), nil, false, "", RuntimeInfo{})
	m.waiting = true

	m.Update(submitErrMsg{err: errors.New("gateway is shutting down")})
	if m.waiting || m.failure == "" {
		t.Fatalf("waiting = %v, failure = %q", m.waiting, m.failure)
	}
}

func TestOneShotQuitsAfterReply(t *testing.T) {
	m := newModel(context.Background(), func(context.Context, string) error { return nil }, true, "ping", RuntimeInfo{})
	if cmd := m.Init(); cmd == nil {
		t.Fatal("expected one-shot to submit on init")
	}

	_, cmd := m.Update(replyMsg{result: engine.RunResult{Response: "pong"}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected one-shot to quit after the reply")
	}
	if !strings.Contains(m.View(), "pong") {
		t.Fatal("expected one-shot view to show the reply")
	}
}

func TestExitCommands(t *testing.T) {
	for _, input := range []string{"exit", "/exit", "QUIT", ":q"} {
		if !isExitCommand(input) {
			t.Fatalf("expected %q to exit", input)
		}
	}
	if isExitCommand("/new") {
		t.Fatal("expected /new not to exit")
	}
}
