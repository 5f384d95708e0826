package realtime

// Channel is a broadcast topic address. Four scopes exist:
// conversation:{id}, website:{id}, organization:{id} and global. The
// primitive underneath assumes no further structure.
type Channel string

// ChannelGlobal is the platform-wide topic; nothing in the core
// publishes to it, but operational tooling may.
const ChannelGlobal Channel = "global"

// ConversationChannel addresses one conversation's topic.
func ConversationChannel(conversationID string) Channel {
	return Channel("conversation:" + conversationID)
}

// WebsiteChannel addresses one website's topic.
func WebsiteChannel(websiteID string) Channel {
	return Channel("website:" + websiteID)
}

// OrganizationChannel addresses one organization's topic.
func OrganizationChannel(organizationID string) Channel {
	return Channel("organization:" + organizationID)
}

// ChannelsFor maps an event to the ordered set of channels it fans out
// to. Exactly two shapes exist:
//
//   - conversation-scoped events hit conversation, website and
//     organization;
//   - website-scoped presence events hit website and organization only.
//
// Adding an event kind means explicitly choosing one of these shapes
// (or defining a third here).
func ChannelsFor(e Event) []Channel {
	r := e.routing()

	if r.conversationID == "" {
		return []Channel{
			WebsiteChannel(r.websiteID),
			OrganizationChannel(r.organizationID),
		}
	}

	return []Channel{
		ConversationChannel(r.conversationID),
		WebsiteChannel(r.websiteID),
		OrganizationChannel(r.organizationID),
	}
}
