package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
)

const channelName = "discord"

// Adapter bridges a Discord bot gateway connection onto the message bus.
type Adapter struct {
	token   string
	session *discordgo.Session
	allow   channel.AllowList
	log     *slog.Logger

	mu          sync.Mutex
	bus         *bus.MessageBus
	ctx         context.Context
	botUserID   string
	unsubscribe func()
}

// NewAdapter builds the adapter. Credentials are checked by Start.
func NewAdapter(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if log == nil {
		log = slog.Default()
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &Adapter{
		token:   token,
		session: dg,
		allow:   channel.NewAllowList(cfg.AllowFrom),
		log:     log.With("component", "channel.discord"),
	}
	dg.AddHandler(a.handleReady)
	dg.AddHandler(a.handleMessage)

	return a, nil
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) IsAllowed(userID string) bool {
	return a.allow.Allows(userID)
}

// Start opens the gateway websocket. Messages are pushed to b until Stop.
func (a *Adapter) Start(ctx context.Context, b *bus.MessageBus) error {
	if a.token == "" {
		return fmt.Errorf("%w: channels.discord.token", channel.ErrMissingToken)
	}

	a.mu.Lock()
	a.bus = b
	a.ctx = ctx
	a.mu.Unlock()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}

	a.mu.Lock()
	a.unsubscribe = channel.Route(b, a)
	a.mu.Unlock()

	a.log.Info("Discord channel started")
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.bus = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("close discord connection: %w", err)
	}

	a.log.Info("Discord channel stopped")
	return nil
}

func (a *Adapter) Send(ctx context.Context, chatID string, text string) error {
	return a.SendReply(ctx, chatID, text, "")
}

// SendReply sends text in chunks of at most 2000 characters. The first chunk
// references replyToMessageID when set.
func (a *Adapter) SendReply(ctx context.Context, chatID string, text string, replyToMessageID string) error {
	for i, chunk := range channel.SplitMessage(text, channel.DiscordMaxLength) {
		var err error
		if i == 0 && replyToMessageID != "" {
			ref := &discordgo.MessageReference{MessageID: replyToMessageID, ChannelID: chatID}
			_, err = a.session.ChannelMessageSendReply(chatID, chunk, ref, discordgo.WithContext(ctx))
		} else {
			_, err = a.session.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}

	return nil
}

func (a *Adapter) SendFile(ctx context.Context, chatID string, path string, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		a.log.Warn("File not found, sending caption instead", "path", path, "error", err)
		return channel.SendFileAsText(ctx, a, chatID, path, caption)
	}
	defer file.Close()

	_, err = a.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Files:   []*discordgo.File{{Name: filepath.Base(path), Reader: file}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord file: %w", err)
	}

	return nil
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.botUserID = r.User.ID
	a.mu.Unlock()

	a.log.Info("Discord bot connected", "user", r.User.Username)
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	a.mu.Lock()
	b, ctx := a.bus, a.ctx
	a.mu.Unlock()
	if b == nil {
		return
	}

	inbound, ok := a.inboundFromMessage(m)
	if !ok {
		return
	}

	a.log.Info("Received message",
		"chat_id", inbound.ChatID,
		"sender_id", inbound.UserID,
		"content", channel.Preview(inbound.Text),
	)

	if inbound.Command() == "" {
		if err := s.ChannelTyping(inbound.ChatID); err != nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", inbound.ChatID, "error", err)
		}
	}
	if !b.PushInbound(ctx, inbound) {
		a.log.Warn("Dropped inbound message, bus closed", "chat_id", inbound.ChatID)
	}
}

func (a *Adapter) inboundFromMessage(m *discordgo.MessageCreate) (bus.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return bus.InboundMessage{}, false
	}

	a.mu.Lock()
	botUserID := a.botUserID
	a.mu.Unlock()

	if m.Author.Bot || (botUserID != "" && m.Author.ID == botUserID) {
		return bus.InboundMessage{}, false
	}
	if !a.allow.Allows(m.Author.ID, m.Author.Username) {
		a.log.Warn("Blocked message from non-allowed user", "sender_id", m.Author.ID)
		return bus.InboundMessage{}, false
	}

	text := m.Content
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
		text = strings.ReplaceAll(text, "<@!"+botUserID+">", "")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return bus.InboundMessage{}, false
	}

	inbound := bus.InboundMessage{
		Channel: channelName,
		ChatID:  m.ChannelID,
		UserID:  m.Author.ID,
		Text:    text,
		Metadata: map[string]string{
			bus.MetaMessageID: m.ID,
			"guild_id":        m.GuildID,
		},
		Timestamp: m.Timestamp.UTC(),
	}

	if name, arg, ok := channel.ParseCommand(text); ok && channel.IsCommand(name) {
		for key, value := range channel.CommandMetadata(name, arg) {
			inbound.Metadata[key] = value
		}
	}

	return inbound, true
}
