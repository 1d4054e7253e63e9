package channel

import (
	"context"
	"fmt"

	"grip/pkg/bus"
)

// Replier is implemented by channels that can thread a reply under the
// message that triggered it.
type Replier interface {
	SendReply(ctx context.Context, chatID string, text string, replyToMessageID string) error
}

// Route subscribes ch to outbound messages addressed to its name. File
// payloads go through SendFile, everything else through Send. The returned
// func unsubscribes.
func Route(b *bus.MessageBus, ch Channel) func() {
	name := ch.Name()

	return b.SubscribeOutbound(func(ctx context.Context, msg bus.OutboundMessage) error {
		if msg.Channel != name {
			return nil
		}

		if msg.FilePath != "" {
			if err := ch.SendFile(ctx, msg.ChatID, msg.FilePath, msg.Text); err != nil {
				return fmt.Errorf("send file on %s: %w", name, err)
			}
			return nil
		}

		if msg.Text == "" {
			return nil
		}
		if replier, ok := ch.(Replier); ok && msg.ReplyToMessageID != "" {
			if err := replier.SendReply(ctx, msg.ChatID, msg.Text, msg.ReplyToMessageID); err != nil {
				return fmt.Errorf("send reply on %s: %w", name, err)
			}
			return nil
		}
		if err := ch.Send(ctx, msg.ChatID, msg.Text); err != nil {
			return fmt.Errorf("send on %s: %w", name, err)
		}

		return nil
	})
}
