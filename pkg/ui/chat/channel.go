package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/engine"
)

const (
	ChannelName = "cli"
	LocalChatID = "local"
)

// Channel is the terminal surface. Lines typed into the TUI go onto the bus as
// inbound messages for chat "local"; replies for channel "cli" are rendered.
type Channel struct {
	log *slog.Logger

	mu          sync.Mutex
	bus         *bus.MessageBus
	program     *tea.Program
	unsubscribe func()
}

func NewChannel(log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}

	return &Channel{log: log.With("component", "channel.cli")}
}

func (c *Channel) Name() string {
	return ChannelName
}

// IsAllowed accepts everyone: the terminal user owns the process.
func (c *Channel) IsAllowed(string) bool {
	return true
}

func (c *Channel) Start(_ context.Context, b *bus.MessageBus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bus = b
	c.unsubscribe = b.SubscribeOutbound(c.deliver)
	return nil
}

func (c *Channel) Stop(context.Context) error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.bus = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	return nil
}

func (c *Channel) Send(_ context.Context, _ string, text string) error {
	return c.dispatch(replyMsg{result: engine.RunResult{Response: text}})
}

func (c *Channel) SendFile(ctx context.Context, chatID string, path string, caption string) error {
	return channel.SendFileAsText(ctx, c, chatID, path, caption)
}

// Submit pushes one line typed by the user onto the bus, tagging control
// commands the way chat adapters do.
func (c *Channel) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	b := c.bus
	c.mu.Unlock()
	if b == nil {
		return errors.New("cli channel is not started")
	}

	text = strings.TrimSpace(text)
	msg := bus.InboundMessage{
		Channel:   ChannelName,
		ChatID:    LocalChatID,
		UserID:    LocalChatID,
		Text:      text,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	if name, arg, ok := channel.ParseCommand(text); ok && channel.IsCommand(name) {
		msg.Metadata = channel.CommandMetadata(name, arg)
	}

	if !b.PushInbound(ctx, msg) {
		return errors.New("gateway is shutting down")
	}

	c.log.Debug("Submitted message", "content", channel.Preview(text))
	return nil
}

func (c *Channel) attach(program *tea.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = program
}

func (c *Channel) deliver(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Channel != ChannelName {
		return nil
	}
	if msg.FilePath != "" {
		return c.SendFile(ctx, msg.ChatID, msg.FilePath, msg.Text)
	}

	return c.dispatch(replyMsg{result: engine.ResultFromMetadata(msg.Text, msg.Metadata)})
}

func (c *Channel) dispatch(msg tea.Msg) error {
	c.mu.Lock()
	program := c.program
	c.mu.Unlock()

	if program == nil {
		return errors.New("cli channel has no attached terminal")
	}

	program.Send(msg)
	return nil
}
