package slack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
)

const channelName = "slack"

// Adapter receives Slack events over Socket Mode, so no public URL is needed.
type Adapter struct {
	api      *slack.Client
	socket   *socketmode.Client
	allow    channel.AllowList
	log      *slog.Logger
	tokenErr error

	mu          sync.Mutex
	botUserID   string
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// NewAdapter builds the adapter. Socket mode needs both the bot token and the
// app-level token; a missing one is reported by Start.
func NewAdapter(cfg config.SlackConfig, log *slog.Logger) *Adapter {
	botToken := strings.TrimSpace(cfg.Token)
	appToken := strings.TrimSpace(cfg.AppToken)
	if log == nil {
		log = slog.Default()
	}

	var tokenErr error
	switch {
	case botToken == "":
		tokenErr = fmt.Errorf("%w: channels.slack.token", channel.ErrMissingToken)
	case appToken == "":
		tokenErr = fmt.Errorf("%w: channels.slack.app_token", channel.ErrMissingToken)
	}

	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))

	return &Adapter{
		tokenErr: tokenErr,
		api:      api,
		socket:   socketmode.New(api),
		allow:    channel.NewAllowList(cfg.AllowFrom),
		log:      log.With("component", "channel.slack"),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) IsAllowed(userID string) bool {
	return a.allow.Allows(userID)
}

func (a *Adapter) Start(ctx context.Context, b *bus.MessageBus) error {
	if a.tokenErr != nil {
		return a.tokenErr
	}

	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.botUserID = auth.UserID
	a.cancel = cancel
	a.done = done
	a.unsubscribe = channel.Route(b, a)
	a.mu.Unlock()

	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("Slack socket mode stopped", "error", err)
		}
	}()
	go func() {
		defer close(done)
		a.consume(runCtx, b)
	}()

	a.log.Info("Slack channel started", "bot_user_id", auth.UserID)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done, unsubscribe := a.cancel, a.done, a.unsubscribe
	a.cancel, a.unsubscribe = nil, nil
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
		a.log.Info("Slack channel stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Send(ctx context.Context, chatID string, text string) error {
	return a.SendReply(ctx, chatID, text, "")
}

// SendReply posts into the thread of replyToMessageID (a message ts) when set.
func (a *Adapter) SendReply(ctx context.Context, chatID string, text string, replyToMessageID string) error {
	for _, chunk := range channel.SplitMessage(text, channel.SlackMaxLength) {
		options := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if replyToMessageID != "" {
			options = append(options, slack.MsgOptionTS(replyToMessageID))
		}
		if _, _, err := a.api.PostMessageContext(ctx, chatID, options...); err != nil {
			return fmt.Errorf("post slack message: %w", err)
		}
	}

	return nil
}

func (a *Adapter) SendFile(ctx context.Context, chatID string, path string, caption string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		a.log.Warn("File not found, sending caption instead", "path", path)
		return channel.SendFileAsText(ctx, a, chatID, path, caption)
	}

	_, err = a.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        chatID,
		File:           path,
		Filename:       filepath.Base(path),
		FileSize:       int(info.Size()),
		InitialComment: caption,
	})
	if err != nil {
		return fmt.Errorf("upload slack file: %w", err)
	}

	return nil
}

func (a *Adapter) consume(ctx context.Context, b *bus.MessageBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleEvent(ctx, b, evt)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, b *bus.MessageBus, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.log.Info("Slack socket mode connected")
		return
	case socketmode.EventTypeEventsAPI:
	default:
		return
	}

	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	message, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	inbound, ok := a.inboundFromEvent(message)
	if !ok {
		return
	}

	a.log.Info("Received message",
		"chat_id", inbound.ChatID,
		"sender_id", inbound.UserID,
		"content", channel.Preview(inbound.Text),
	)
	if !b.PushInbound(ctx, inbound) {
		a.log.Warn("Dropped inbound message, bus closed", "chat_id", inbound.ChatID)
	}
}

func (a *Adapter) inboundFromEvent(ev *slackevents.MessageEvent) (bus.InboundMessage, bool) {
	if ev == nil || ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.Channel == "" {
		return bus.InboundMessage{}, false
	}

	a.mu.Lock()
	botUserID := a.botUserID
	a.mu.Unlock()
	if botUserID != "" && ev.User == botUserID {
		return bus.InboundMessage{}, false
	}

	if !a.allow.Allows(ev.User) {
		a.log.Warn("Blocked message from non-allowed user", "sender_id", ev.User)
		return bus.InboundMessage{}, false
	}

	text := ev.Text
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return bus.InboundMessage{}, false
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	inbound := bus.InboundMessage{
		Channel: channelName,
		ChatID:  ev.Channel,
		UserID:  ev.User,
		Text:    text,
		Metadata: map[string]string{
			"ts":   ev.TimeStamp,
			"team": ev.UserTeam,
		},
	}
	// Direct messages stay flat; channel conversations are answered in thread.
	if ev.ChannelType != "im" {
		inbound.Metadata[bus.MetaMessageID] = threadTS
	}

	if name, arg, ok := channel.ParseCommand(text); ok && channel.IsCommand(name) {
		for key, value := range channel.CommandMetadata(name, arg) {
			inbound.Metadata[key] = value
		}
	}

	return inbound, true
}
