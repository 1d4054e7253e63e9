package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
)

func newMessage(authorID string, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m-1",
		ChannelID: "c-9",
		GuildID:   "g-1",
		Content:   content,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Author:    &discordgo.User{ID: authorID, Username: "bob"},
	}}
}

func TestStartRequiresToken(t *testing.T) {
	b := bus.NewMessageBus(1)
	defer b.Close()

	adapter, err := NewAdapter(config.DiscordConfig{}, nil)
	require.NoError(t, err)

	err = adapter.Start(context.Background(), b)
	require.ErrorIs(t, err, channel.ErrMissingToken)
	assert.Zero(t, b.OutboundListenerCount())
}

func TestInboundFromMessage(t *testing.T) {
	adapter, err := NewAdapter(config.DiscordConfig{Token: "token"}, nil)
	require.NoError(t, err)
	adapter.botUserID = "bot"

	inbound, ok := adapter.inboundFromMessage(newMessage("u-1", "<@bot> what's up"))
	require.True(t, ok)
	assert.Equal(t, "discord:c-9", inbound.SessionKey())
	assert.Equal(t, "what's up", inbound.Text)
	assert.Equal(t, "m-1", inbound.Metadata[bus.MetaMessageID])
	assert.Empty(t, inbound.Command())

	_, ok = adapter.inboundFromMessage(newMessage("bot", "echo"))
	assert.False(t, ok, "own messages are ignored")

	msg := newMessage("u-2", "hi")
	msg.Author.Bot = true
	_, ok = adapter.inboundFromMessage(msg)
	assert.False(t, ok, "bot messages are ignored")
}

func TestInboundFromCommand(t *testing.T) {
	adapter, err := NewAdapter(config.DiscordConfig{Token: "token"}, nil)
	require.NoError(t, err)

	inbound, ok := adapter.inboundFromMessage(newMessage("u-1", "!trust ~/projects"))
	require.True(t, ok)
	assert.Equal(t, "trust", inbound.Command())
	assert.Equal(t, "~/projects", inbound.Metadata[bus.MetaTrustPath])

	inbound, ok = adapter.inboundFromMessage(newMessage("u-1", "!unknown"))
	require.True(t, ok)
	assert.Empty(t, inbound.Command(), "unknown commands are sent as plain text")
}

func TestAllowFrom(t *testing.T) {
	adapter, err := NewAdapter(config.DiscordConfig{Token: "token", AllowFrom: []string{"u-1"}}, nil)
	require.NoError(t, err)

	_, ok := adapter.inboundFromMessage(newMessage("u-2", "hello"))
	assert.False(t, ok)
	_, ok = adapter.inboundFromMessage(newMessage("u-1", "hello"))
	assert.True(t, ok)
	assert.True(t, adapter.IsAllowed("u-1"))
	assert.Equal(t, "discord", adapter.Name())
}
