package slack

import (
	"context"
	"testing"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
)

func newTestAdapter(t *testing.T, allowFrom ...string) *Adapter {
	t.Helper()

	adapter := NewAdapter(config.SlackConfig{Token: "xoxb-1", AppToken: "xapp-1", AllowFrom: allowFrom}, nil)
	adapter.botUserID = "UBOT"

	return adapter
}

func TestStartRequiresBothTokens(t *testing.T) {
	b := bus.NewMessageBus(1)
	defer b.Close()

	err := NewAdapter(config.SlackConfig{Token: "xoxb-1"}, nil).Start(context.Background(), b)
	require.ErrorIs(t, err, channel.ErrMissingToken)
	require.ErrorContains(t, err, "app_token")

	err = NewAdapter(config.SlackConfig{AppToken: "xapp-1"}, nil).Start(context.Background(), b)
	require.ErrorIs(t, err, channel.ErrMissingToken)
	require.ErrorContains(t, err, "channels.slack.token")
	assert.Zero(t, b.OutboundListenerCount())
}

func TestInboundFromChannelMessageThreads(t *testing.T) {
	adapter := newTestAdapter(t)

	inbound, ok := adapter.inboundFromEvent(&slackevents.MessageEvent{
		User:        "U1",
		Channel:     "C1",
		ChannelType: "channel",
		Text:        "<@UBOT> summarize this",
		TimeStamp:   "1700000000.0001",
	})
	require.True(t, ok)
	assert.Equal(t, "slack:C1", inbound.SessionKey())
	assert.Equal(t, "summarize this", inbound.Text)
	assert.Equal(t, "1700000000.0001", inbound.Metadata[bus.MetaMessageID])
}

func TestInboundFromDirectMessageStaysFlat(t *testing.T) {
	adapter := newTestAdapter(t)

	inbound, ok := adapter.inboundFromEvent(&slackevents.MessageEvent{
		User:        "U1",
		Channel:     "D1",
		ChannelType: "im",
		Text:        "!compact",
		TimeStamp:   "1.2",
	})
	require.True(t, ok)
	assert.Empty(t, inbound.Metadata[bus.MetaMessageID])
	assert.Equal(t, "compact", inbound.Command())
}

func TestInboundSkipsBotsAndSubtypes(t *testing.T) {
	adapter := newTestAdapter(t, "U1")

	cases := []*slackevents.MessageEvent{
		{User: "UBOT", Channel: "C1", Text: "echo"},
		{User: "U1", Channel: "C1", Text: "edited", SubType: "message_changed"},
		{User: "U1", Channel: "C1", Text: "from app", BotID: "B1"},
		{User: "U2", Channel: "C1", Text: "not allowed"},
		{User: "U1", Channel: "C1", Text: "   "},
	}
	for _, ev := range cases {
		_, ok := adapter.inboundFromEvent(ev)
		assert.False(t, ok, ev.Text)
	}

	assert.True(t, adapter.IsAllowed("U1"))
	assert.False(t, adapter.IsAllowed("U2"))
}
