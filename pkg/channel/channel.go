// Package channel defines the contract chat platform adapters implement and
// the helpers they share.
package channel

import (
	"context"
	"errors"
	"strings"

	"grip/pkg/bus"
)

// ErrMissingToken is returned by Start when a required credential is empty.
// The manager logs it and starts the remaining channels.
var ErrMissingToken = errors.New("missing token")

// Platform message size limits, in characters.
const (
	TelegramMaxLength = 4096
	DiscordMaxLength  = 2000
	SlackMaxLength    = 40000
)

// Channel bridges one chat platform onto the message bus.
//
// Start connects to the platform, pushes inbound messages with
// bus.PushInbound and subscribes for outbound delivery (usually via Route).
// Send must split text over the platform limit with SplitMessage.
type Channel interface {
	Name() string
	Start(ctx context.Context, b *bus.MessageBus) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, chatID string, text string) error
	SendFile(ctx context.Context, chatID string, path string, caption string) error
	IsAllowed(userID string) bool
}

// SendFileAsText is the fallback for platforms without file upload: it sends
// the caption, or a "[File: path]" marker when the caption is empty.
func SendFileAsText(ctx context.Context, ch Channel, chatID string, path string, caption string) error {
	text := strings.TrimSpace(caption)
	if text == "" {
		text = "[File: " + path + "]"
	}

	return ch.Send(ctx, chatID, text)
}

// PreviewLimit bounds message text written to logs.
const PreviewLimit = 240

// Preview returns a bounded log-safe preview of message text.
func Preview(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= PreviewLimit {
		return trimmed
	}

	return string(runes[:PreviewLimit]) + "..."
}
