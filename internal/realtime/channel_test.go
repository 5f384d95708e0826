package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelAddresses(t *testing.T) {
	assert.Equal(t, Channel("conversation:c1"), ConversationChannel("c1"))
	assert.Equal(t, Channel("website:w1"), WebsiteChannel("w1"))
	assert.Equal(t, Channel("organization:o1"), OrganizationChannel("o1"))
	assert.Equal(t, Channel("global"), ChannelGlobal)
}

func TestChannelsForConversationScopedEvents(t *testing.T) {
	want := []Channel{"conversation:c1", "website:w1", "organization:o1"}

	events := []Event{
		NewMessage{ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1", MessageID: "m1"},
		ConversationStatusChanged{ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1", Status: "resolved"},
		ConversationAssigned{ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1", AssigneeID: "u1"},
	}
	for _, e := range events {
		assert.Equal(t, want, ChannelsFor(e), "kind %s", e.Kind())
	}
}

func TestChannelsForPresenceExcludesConversation(t *testing.T) {
	want := []Channel{"website:w1", "organization:o1"}

	for _, online := range []bool{true, false} {
		e := VisitorPresence{WebsiteID: "w1", OrganizationID: "o1", VisitorID: "v1", Online: online}
		got := ChannelsFor(e)
		assert.Equal(t, want, got)
		for _, ch := range got {
			assert.NotContains(t, string(ch), "conversation:")
		}
	}
}
