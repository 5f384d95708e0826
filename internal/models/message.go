package models

import (
	"github.com/google/uuid"

	"github.com/tetherchat/tether/internal/mention"
)

// AuthorType identifies who wrote a message.
type AuthorType string

const (
	AuthorVisitor  AuthorType = "visitor"
	AuthorOperator AuthorType = "operator"
	AuthorAgent    AuthorType = "agent" // AI agent
)

// ValidAuthorType reports whether t is a known author type.
func ValidAuthorType(t AuthorType) bool {
	switch t {
	case AuthorVisitor, AuthorOperator, AuthorAgent:
		return true
	}
	return false
}

// Message is a single conversation entry. Body is stored in Unicode NFC
// form; Mentions is the canonical mention index computed from Body at
// write time and recomputed in full on every edit, so diffs never
// require re-parsing historical bodies.
type Message struct {
	ID             string              `json:"id"` // ULID
	ConversationID uuid.UUID           `json:"conversation_id"`
	WebsiteID      uuid.UUID           `json:"website_id"`
	OrganizationID uuid.UUID           `json:"organization_id"`
	AuthorType     AuthorType          `json:"author_type"`
	AuthorID       string              `json:"author_id"`
	Body           string              `json:"body"`
	Mentions       []mention.IndexItem `json:"mentions,omitempty"`
	Timestamp      int64               `json:"ts"` // Unix ms
}
