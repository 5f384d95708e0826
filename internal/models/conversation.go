package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus values follow the operator workflow.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
)

// ValidConversationStatus reports whether s is a known status value.
func ValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationOpen, ConversationPending, ConversationResolved:
		return true
	}
	return false
}

// Conversation is a visitor thread on a website. Soft-deleted rows keep
// their data but are filtered out of every store read.
type Conversation struct {
	ID             uuid.UUID          `json:"id"`
	WebsiteID      uuid.UUID          `json:"website_id"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	VisitorID      string             `json:"visitor_id"`
	Status         ConversationStatus `json:"status"`
	AssigneeID     *uuid.UUID         `json:"assignee_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	DeletedAt      *time.Time         `json:"-"`
}
