package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/pkg/bus"
)

type sentMessage struct {
	chatID  string
	text    string
	path    string
	caption string
}

type fakeChannel struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string

	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context, *bus.MessageBus) error {
	f.record("start:" + f.name)
	return f.startErr
}

func (f *fakeChannel) Stop(context.Context) error {
	f.record("stop:" + f.name)
	return f.stopErr
}

func (f *fakeChannel) Send(_ context.Context, chatID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeChannel) SendFile(_ context.Context, chatID string, path string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, path: path, caption: caption})
	return nil
}

func (f *fakeChannel) IsAllowed(string) bool { return true }

func (f *fakeChannel) record(event string) {
	if f.events != nil {
		*f.events = append(*f.events, event)
	}
}

func (f *fakeChannel) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func TestSplitMessageShortTextIsUnchanged(t *testing.T) {
	chunks := SplitMessage("hello", 10)
	require.Equal(t, []string{"hello"}, chunks)
}

func TestSplitMessageHardSplitReassembles(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25)

	chunks := SplitMessage(text, 40)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 40)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessagePrefersLateNewline(t *testing.T) {
	lines := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
		strings.Repeat("d", 30),
	}
	text := strings.Join(lines, "\n")

	chunks := SplitMessage(text, 50)
	require.Len(t, chunks, 4)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 50)
		assert.Equal(t, lines[i], chunk)
	}
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestSplitMessageIgnoresEarlyNewline(t *testing.T) {
	text := "ab\n" + strings.Repeat("x", 60)

	chunks := SplitMessage(text, 40)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 40)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 25)

	chunks := SplitMessage(text, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestAllowList(t *testing.T) {
	var empty AllowList
	assert.True(t, empty.Allows("anyone"))

	list := NewAllowList([]string{" 123 ", "", "@alice"})
	assert.True(t, list.Allows("123"))
	assert.True(t, list.Allows("999", "alice"))
	assert.True(t, list.Allows("@alice"))
	assert.False(t, list.Allows("456"))
	assert.False(t, list.Allows())

	blank := NewAllowList([]string{" ", ""})
	assert.True(t, blank.Empty())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		arg   string
		ok    bool
	}{
		{input: "/undo", name: "undo", ok: true},
		{input: "!model openai/gpt-5.2", name: "model", arg: "openai/gpt-5.2", ok: true},
		{input: "/trust@grip_bot  revoke ~/src ", name: "trust", arg: "revoke ~/src", ok: true},
		{input: "/STATUS", name: "status", ok: true},
		{input: "hello /undo", ok: false},
		{input: "/", ok: false},
		{input: "", ok: false},
	}

	for _, tt := range tests {
		name, arg, ok := ParseCommand(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.name, name, tt.input)
		assert.Equal(t, tt.arg, arg, tt.input)
	}
}

func TestCommandMetadata(t *testing.T) {
	model := CommandMetadata("model", "gpt-5.2")
	assert.Equal(t, "model", model[bus.MetaCommand])
	assert.Equal(t, "gpt-5.2", model[bus.MetaModelName])

	trust := CommandMetadata("trust", "~/src")
	assert.Equal(t, "~/src", trust[bus.MetaTrustPath])

	assert.True(t, IsCommand("compact"))
	assert.False(t, IsCommand("help"))
	assert.Contains(t, HelpText(), "/compact - Summarize and compress history")
}

func TestRouteDeliversOnlyOwnChannel(t *testing.T) {
	mb := bus.NewMessageBus(0)
	t.Cleanup(mb.Close)

	ch := &fakeChannel{name: "discord"}
	unsubscribe := Route(mb, ch)

	ctx := context.Background()
	mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "telegram", ChatID: "1", Text: "skip"})
	mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "discord", ChatID: "2", Text: "hello"})
	mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "discord", ChatID: "2", Text: "report", FilePath: "/tmp/r.pdf"})

	sent := ch.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, sentMessage{chatID: "2", text: "hello"}, sent[0])
	assert.Equal(t, sentMessage{chatID: "2", path: "/tmp/r.pdf", caption: "report"}, sent[1])

	unsubscribe()
	mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "discord", ChatID: "2", Text: "late"})
	assert.Len(t, ch.messages(), 2)
}

func TestSendFileAsText(t *testing.T) {
	ch := &fakeChannel{name: "slack"}

	require.NoError(t, SendFileAsText(context.Background(), ch, "C1", "/tmp/a.txt", ""))
	require.NoError(t, SendFileAsText(context.Background(), ch, "C1", "/tmp/a.txt", "caption"))

	sent := ch.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "[File: /tmp/a.txt]", sent[0].text)
	assert.Equal(t, "caption", sent[1].text)
}

func TestManagerStartsInOrderAndStopsInReverse(t *testing.T) {
	mb := bus.NewMessageBus(0)
	t.Cleanup(mb.Close)

	var events []string
	manager := NewManager(mb, nil,
		&fakeChannel{name: "telegram", events: &events},
		&fakeChannel{name: "discord", events: &events, startErr: errors.New("missing token")},
		&fakeChannel{name: "slack", events: &events, stopErr: errors.New("socket closed")},
		&fakeChannel{name: "cli", events: &events},
	)

	started := manager.StartAll(context.Background())
	assert.Equal(t, []string{"telegram", "slack", "cli"}, started)
	assert.Equal(t, started, manager.Running())

	_, ok := manager.Get("discord")
	assert.False(t, ok)
	ch, ok := manager.Get("slack")
	require.True(t, ok)
	assert.Equal(t, "slack", ch.Name())

	manager.StopAll(context.Background())
	assert.Equal(t, []string{
		"start:telegram", "start:discord", "start:slack", "start:cli",
		"stop:cli", "stop:slack", "stop:telegram",
	}, events)
	assert.Empty(t, manager.Running())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello", Preview(" hello "))

	long := Preview(strings.Repeat("a", PreviewLimit+20))
	assert.Len(t, long, PreviewLimit+3)
	assert.True(t, strings.HasSuffix(long, "..."))
}

type replyingChannel struct {
	fakeChannel
	replies []string
}

func (r *replyingChannel) SendReply(_ context.Context, chatID string, text string, replyTo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, chatID+"/"+replyTo+"/"+text)
	return nil
}

func TestRouteThreadsRepliesWhenSupported(t *testing.T) {
	mb := bus.NewMessageBus(0)
	t.Cleanup(mb.Close)

	ch := &replyingChannel{fakeChannel: fakeChannel{name: "telegram"}}
	Route(mb, ch)

	mb.PublishOutbound(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "7", Text: "hi", ReplyToMessageID: "55"})
	mb.PublishOutbound(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "7", Text: "plain"})

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, []string{"7/55/hi"}, ch.replies)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "plain", ch.sent[0].text)
}
