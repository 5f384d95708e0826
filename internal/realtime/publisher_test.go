package realtime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToExactChannelSet(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	publisher := NewPublisher(broadcaster, zerolog.Nop())

	event := NewMessage{
		ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1",
		MessageID: "m1", AuthorType: "visitor", AuthorID: "v1", Body: "hello",
	}
	require.NoError(t, publisher.Publish(context.Background(), event))

	assert.ElementsMatch(t,
		[]Channel{"conversation:c1", "website:w1", "organization:o1"},
		broadcaster.pushedChannels())

	// Identical serialized payload on every channel.
	want := broadcaster.channelPayloads("conversation:c1")
	require.Len(t, want, 1)
	assert.Equal(t, want, broadcaster.channelPayloads("website:w1"))
	assert.Equal(t, want, broadcaster.channelPayloads("organization:o1"))
}

func TestPublishPresenceSkipsConversationChannel(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	publisher := NewPublisher(broadcaster, zerolog.Nop())

	event := VisitorPresence{WebsiteID: "w1", OrganizationID: "o1", VisitorID: "v1", Online: true}
	require.NoError(t, publisher.Publish(context.Background(), event))

	assert.ElementsMatch(t,
		[]Channel{"website:w1", "organization:o1"},
		broadcaster.pushedChannels())
}

func TestPublishFailsWhenAnyChannelFails(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	broadcaster.failOn["website:w1"] = true
	publisher := NewPublisher(broadcaster, zerolog.Nop())

	event := ConversationStatusChanged{
		ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1", Status: "resolved",
	}
	err := publisher.Publish(context.Background(), event)
	assert.Error(t, err)
}
