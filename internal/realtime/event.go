// Package realtime fans conversation activity out to channel
// subscribers. Channels are plain named topics on an external broadcast
// primitive; the topology guarantees events never leak across tenants
// and presence never leaks across visitor sessions.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindNewMessage                Kind = "new_message"
	KindConversationStatusChanged Kind = "conversation_status_changed"
	KindConversationAssigned      Kind = "conversation_assigned"
	KindVisitorOnline             Kind = "visitor_online"
	KindVisitorOffline            Kind = "visitor_offline"
)

// Event is the closed set of realtime events. Every event carries
// enough tenant identifiers to be routed without a secondary lookup.
// The unexported routing method keeps the set closed to this package.
type Event interface {
	Kind() Kind
	routing() routing
}

// routing carries the identifiers the channel topology needs.
type routing struct {
	conversationID string // empty for website-scoped events
	websiteID      string
	organizationID string
}

// NewMessage announces a message appended to a conversation.
type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	WebsiteID      string `json:"website_id"`
	OrganizationID string `json:"organization_id"`
	MessageID      string `json:"message_id"`
	AuthorType     string `json:"author_type"`
	AuthorID       string `json:"author_id"`
	Body           string `json:"body"`
}

func (e NewMessage) Kind() Kind { return KindNewMessage }
func (e NewMessage) routing() routing {
	return routing{e.ConversationID, e.WebsiteID, e.OrganizationID}
}

// ConversationStatusChanged announces a status transition.
type ConversationStatusChanged struct {
	ConversationID string `json:"conversation_id"`
	WebsiteID      string `json:"website_id"`
	OrganizationID string `json:"organization_id"`
	Status         string `json:"status"`
}

func (e ConversationStatusChanged) Kind() Kind { return KindConversationStatusChanged }
func (e ConversationStatusChanged) routing() routing {
	return routing{e.ConversationID, e.WebsiteID, e.OrganizationID}
}

// ConversationAssigned announces an operator assignment.
type ConversationAssigned struct {
	ConversationID string `json:"conversation_id"`
	WebsiteID      string `json:"website_id"`
	OrganizationID string `json:"organization_id"`
	AssigneeID     string `json:"assignee_id"`
}

func (e ConversationAssigned) Kind() Kind { return KindConversationAssigned }
func (e ConversationAssigned) routing() routing {
	return routing{e.ConversationID, e.WebsiteID, e.OrganizationID}
}

// VisitorPresence announces a visitor going online or offline. It is
// website-scoped: it deliberately never reaches a conversation channel,
// so one visitor's presence is not exposed to another visitor's
// session.
type VisitorPresence struct {
	WebsiteID      string `json:"website_id"`
	OrganizationID string `json:"organization_id"`
	VisitorID      string `json:"visitor_id"`
	Online         bool   `json:"-"`
}

func (e VisitorPresence) Kind() Kind {
	if e.Online {
		return KindVisitorOnline
	}
	return KindVisitorOffline
}

func (e VisitorPresence) routing() routing {
	return routing{"", e.WebsiteID, e.OrganizationID}
}

// envelope is the wire form: a tagged union flattened into one JSON
// object.
type envelope struct {
	Event          Kind   `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
	WebsiteID      string `json:"website_id"`
	OrganizationID string `json:"organization_id"`
	MessageID      string `json:"message_id,omitempty"`
	AuthorType     string `json:"author_type,omitempty"`
	AuthorID       string `json:"author_id,omitempty"`
	Body           string `json:"body,omitempty"`
	Status         string `json:"status,omitempty"`
	AssigneeID     string `json:"assignee_id,omitempty"`
	VisitorID      string `json:"visitor_id,omitempty"`
}

// Encode serializes an event to its wire form.
func Encode(e Event) ([]byte, error) {
	env := envelope{Event: e.Kind()}

	switch ev := e.(type) {
	case NewMessage:
		env.ConversationID = ev.ConversationID
		env.WebsiteID = ev.WebsiteID
		env.OrganizationID = ev.OrganizationID
		env.MessageID = ev.MessageID
		env.AuthorType = ev.AuthorType
		env.AuthorID = ev.AuthorID
		env.Body = ev.Body
	case ConversationStatusChanged:
		env.ConversationID = ev.ConversationID
		env.WebsiteID = ev.WebsiteID
		env.OrganizationID = ev.OrganizationID
		env.Status = ev.Status
	case ConversationAssigned:
		env.ConversationID = ev.ConversationID
		env.WebsiteID = ev.WebsiteID
		env.OrganizationID = ev.OrganizationID
		env.AssigneeID = ev.AssigneeID
	case VisitorPresence:
		env.WebsiteID = ev.WebsiteID
		env.OrganizationID = ev.OrganizationID
		env.VisitorID = ev.VisitorID
	default:
		return nil, fmt.Errorf("realtime: unknown event type %T", e)
	}

	return json.Marshal(env)
}

// Decode parses and validates a raw payload against the event schema.
// Any unknown kind, missing tenant identifier, or missing kind-specific
// field is an error; subscribers treat those payloads as noise.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("realtime: malformed payload: %w", err)
	}

	if env.WebsiteID == "" || env.OrganizationID == "" {
		return nil, errors.New("realtime: payload missing tenant identifiers")
	}

	switch env.Event {
	case KindNewMessage:
		if env.ConversationID == "" || env.MessageID == "" {
			return nil, errors.New("realtime: new_message missing required fields")
		}
		return NewMessage{
			ConversationID: env.ConversationID,
			WebsiteID:      env.WebsiteID,
			OrganizationID: env.OrganizationID,
			MessageID:      env.MessageID,
			AuthorType:     env.AuthorType,
			AuthorID:       env.AuthorID,
			Body:           env.Body,
		}, nil
	case KindConversationStatusChanged:
		if env.ConversationID == "" || env.Status == "" {
			return nil, errors.New("realtime: conversation_status_changed missing required fields")
		}
		return ConversationStatusChanged{
			ConversationID: env.ConversationID,
			WebsiteID:      env.WebsiteID,
			OrganizationID: env.OrganizationID,
			Status:         env.Status,
		}, nil
	case KindConversationAssigned:
		if env.ConversationID == "" || env.AssigneeID == "" {
			return nil, errors.New("realtime: conversation_assigned missing required fields")
		}
		return ConversationAssigned{
			ConversationID: env.ConversationID,
			WebsiteID:      env.WebsiteID,
			OrganizationID: env.OrganizationID,
			AssigneeID:     env.AssigneeID,
		}, nil
	case KindVisitorOnline, KindVisitorOffline:
		if env.VisitorID == "" {
			return nil, errors.New("realtime: presence event missing visitor id")
		}
		return VisitorPresence{
			WebsiteID:      env.WebsiteID,
			OrganizationID: env.OrganizationID,
			VisitorID:      env.VisitorID,
			Online:         env.Event == KindVisitorOnline,
		}, nil
	}

	return nil, fmt.Errorf("realtime: unknown event kind %q", env.Event)
}
