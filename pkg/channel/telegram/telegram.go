package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"

const (
	typingRefreshInterval = 4 * time.Second
	typingMaxDuration     = 2 * time.Minute
)

const welcomeText = "Hi, I'm grip.\n" +
	"Send me any message and I'll do my best to help.\n" +
	"Type /help to see all available commands."

// Adapter bridges Telegram long polling onto the message bus.
type Adapter struct {
	token string
	allow channel.AllowList
	log   *slog.Logger

	mu          sync.Mutex
	bot         *telego.Bot
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	typing      map[int64]context.CancelFunc
}

// NewAdapter builds the adapter. Credentials are checked by Start.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		token:  strings.TrimSpace(cfg.Token),
		allow:  channel.NewAllowList(cfg.AllowFrom),
		log:    log.With("component", "channel.telegram"),
		typing: make(map[int64]context.CancelFunc),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) IsAllowed(userID string) bool {
	return a.allow.Allows(userID)
}

// Start registers the bot command menu, starts long polling and subscribes
// for outbound delivery. Polling stops on Stop or when ctx ends.
func (a *Adapter) Start(ctx context.Context, b *bus.MessageBus) error {
	if a.token == "" {
		return fmt.Errorf("%w: channels.telegram.token", channel.ErrMissingToken)
	}

	bot, err := telego.NewBot(a.token)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	if err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: botCommands()}); err != nil {
		a.log.Warn("Failed to register telegram bot commands", "error", err)
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.bot = bot
	a.cancel = cancel
	a.done = done
	a.unsubscribe = channel.Route(b, a)
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.poll(pollCtx, bot, b, updates)
	}()

	a.log.Info("Telegram channel started", "commands", len(channel.Commands))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done, unsubscribe := a.cancel, a.done, a.unsubscribe
	a.cancel, a.unsubscribe = nil, nil
	for chatID, stop := range a.typing {
		stop()
		delete(a.typing, chatID)
	}
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		a.log.Info("Telegram channel stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Send(ctx context.Context, chatID string, text string) error {
	return a.send(ctx, chatID, text, 0)
}

// SendReply threads the first chunk under the triggering message.
func (a *Adapter) SendReply(ctx context.Context, chatID string, text string, replyToMessageID string) error {
	replyTo, err := strconv.Atoi(strings.TrimSpace(replyToMessageID))
	if err != nil {
		replyTo = 0
	}

	return a.send(ctx, chatID, text, replyTo)
}

// SendFile uploads images as photos and everything else as documents.
func (a *Adapter) SendFile(ctx context.Context, chatID string, path string, caption string) error {
	bot, id, err := a.target(chatID)
	if err != nil {
		return err
	}
	a.stopTyping(id)

	file, err := os.Open(path)
	if err != nil {
		a.log.Warn("File not found, sending caption instead", "path", path, "error", err)
		return channel.SendFileAsText(ctx, a, chatID, path, caption)
	}
	defer file.Close()

	if isImage(path) {
		params := tu.Photo(tu.ID(id), tu.File(file))
		if caption != "" {
			params = params.WithCaption(caption)
		}
		_, err = bot.SendPhoto(ctx, params)
	} else {
		params := tu.Document(tu.ID(id), tu.File(file))
		if caption != "" {
			params = params.WithCaption(caption)
		}
		_, err = bot.SendDocument(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("send telegram file: %w", err)
	}

	return nil
}

func (a *Adapter) send(ctx context.Context, chatID string, text string, replyTo int) error {
	bot, id, err := a.target(chatID)
	if err != nil {
		return err
	}
	a.stopTyping(id)

	a.log.Info("Sending message", "chat_id", chatID, "content", channel.Preview(text))
	for i, chunk := range channel.SplitMessage(text, channel.TelegramMaxLength) {
		params := tu.Message(tu.ID(id), chunk)
		if i == 0 && replyTo > 0 {
			params = params.WithReplyParameters(&telego.ReplyParameters{MessageID: replyTo, AllowSendingWithoutReply: true})
		}
		if _, err := bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}

	return nil
}

func (a *Adapter) target(chatID string) (*telego.Bot, int64, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return nil, 0, errors.New("telegram channel is not started")
	}

	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	return bot, id, nil
}

func (a *Adapter) poll(ctx context.Context, bot *telego.Bot, b *bus.MessageBus, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() == nil {
					a.log.Error("Telegram updates channel closed")
				}
				return
			}
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, bot, b, *update.Message)
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, bot *telego.Bot, b *bus.MessageBus, message telego.Message) {
	inbound, reply, ok := a.inboundFromMessage(message)
	if reply != "" {
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), reply)); err != nil {
			a.log.Error("Failed to send telegram message", "error", err)
		}
		return
	}
	if !ok {
		return
	}

	a.log.Info("Received message",
		"chat_id", inbound.ChatID,
		"sender_id", inbound.UserID,
		"session_key", inbound.SessionKey(),
		"content", channel.Preview(inbound.Text),
	)

	if inbound.Command() == "" {
		a.startTyping(ctx, bot, message.Chat.ID)
	}
	if !b.PushInbound(ctx, inbound) {
		a.stopTyping(message.Chat.ID)
		a.log.Warn("Dropped inbound message, bus closed", "chat_id", inbound.ChatID)
	}
}

// inboundFromMessage converts a Telegram message. A non-empty reply is sent
// back directly without touching the bus (help, welcome, unknown command).
func (a *Adapter) inboundFromMessage(message telego.Message) (bus.InboundMessage, string, bool) {
	text := strings.TrimSpace(message.Text)
	if text == "" || message.From == nil {
		return bus.InboundMessage{}, "", false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.allow.Allows(senderID, message.From.Username) {
		a.log.Warn("Blocked message from non-allowed user", "sender_id", senderID)
		return bus.InboundMessage{}, "", false
	}

	inbound := bus.InboundMessage{
		Channel: channelName,
		ChatID:  strconv.FormatInt(message.Chat.ID, 10),
		UserID:  senderID,
		Text:    text,
		Metadata: map[string]string{
			bus.MetaMessageID: strconv.Itoa(message.MessageID),
		},
		Timestamp: time.Unix(message.Date, 0).UTC(),
	}
	if message.From.Username != "" {
		inbound.Metadata["username"] = message.From.Username
	}

	name, arg, isCommand := channel.ParseCommand(text)
	if !isCommand {
		return inbound, "", true
	}

	switch {
	case name == "start":
		return bus.InboundMessage{}, welcomeText, false
	case name == "help":
		return bus.InboundMessage{}, channel.HelpText(), false
	case channel.IsCommand(name):
		for key, value := range channel.CommandMetadata(name, arg) {
			inbound.Metadata[key] = value
		}
		return inbound, "", true
	default:
		return bus.InboundMessage{}, "Unknown command: /" + name + "\nType /help for available commands.", false
	}
}

// startTyping shows the typing indicator until the next send to chatID or
// typingMaxDuration, whichever comes first.
func (a *Adapter) startTyping(ctx context.Context, bot *telego.Bot, chatID int64) {
	typingCtx, cancel := context.WithTimeout(ctx, typingMaxDuration)

	a.mu.Lock()
	if previous, ok := a.typing[chatID]; ok {
		previous()
	}
	a.typing[chatID] = cancel
	a.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	go func() {
		defer cancel()
		sendTyping()

		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()
}

func (a *Adapter) stopTyping(chatID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cancel, ok := a.typing[chatID]; ok {
		cancel()
		delete(a.typing, chatID)
	}
}

func botCommands() []telego.BotCommand {
	commands := []telego.BotCommand{
		{Command: "start", Description: "Welcome message"},
		{Command: "help", Description: "List available commands"},
	}
	for _, cmd := range channel.Commands {
		commands = append(commands, telego.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}

	return commands
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}
