package bus

import (
	"context"
	"time"
)

// Metadata keys shared by channel adapters and the gateway consumer.
const (
	MetaCommand    = "command"
	MetaArg        = "arg"
	MetaModelName  = "model_name"
	MetaTrustPath  = "trust_path"
	MetaMessageID  = "message_id"
	MetaIterations = "iterations"
)

type InboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionKey correlates the message with its persisted conversation.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Command returns the control command carried in metadata, if any.
func (m InboundMessage) Command() string {
	if m.Metadata == nil {
		return ""
	}

	return m.Metadata[MetaCommand]
}

type OutboundMessage struct {
	Channel          string            `json:"channel"`
	ChatID           string            `json:"chat_id"`
	Text             string            `json:"text"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ReplyToMessageID string            `json:"reply_to_message_id,omitempty"`
	FilePath         string            `json:"file_path,omitempty"`
}

// Listener receives every published outbound message. Listeners filter by channel.
type Listener func(ctx context.Context, msg OutboundMessage) error
