package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tetherchat/tether/internal/mention"
	"github.com/tetherchat/tether/internal/models"
)

// ErrNotFound is returned by mutating operations whose target row does
// not exist (or is soft-deleted). Read operations return (nil, nil)
// instead, matching the key-store boundary contract.
var ErrNotFound = errors.New("store: not found")

// DataStore is the persistent store boundary. PostgresStore serves
// production; SQLiteStore serves development and tests. All reads are
// organization-scoped by their callers and filter soft-deleted rows.
type DataStore interface {
	Close()
	Ping(ctx context.Context) error

	// Organizations
	CreateOrganization(ctx context.Context, name string) (*models.Organization, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)

	// Websites
	CreateWebsite(ctx context.Context, organizationID uuid.UUID, name string, domains []string) (*models.Website, error)
	GetWebsite(ctx context.Context, id uuid.UUID) (*models.Website, error)
	UpdateWebsiteDomains(ctx context.Context, id uuid.UUID, domains []string) error

	// API keys. LookupKey returns (nil, nil) for unknown or inactive
	// keys; it never returns revoked credentials.
	CreateApiKey(ctx context.Context, key *models.ApiKey) error
	LookupKey(ctx context.Context, rawKey string) (*models.ResolvedKey, error)
	ListWebsiteKeys(ctx context.Context, websiteID uuid.UUID) ([]models.ApiKey, error)
	RevokeApiKey(ctx context.Context, id, organizationID uuid.UUID) (*models.ApiKey, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]models.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error
	AssignConversation(ctx context.Context, id, assigneeID uuid.UUID) error
	SoftDeleteConversation(ctx context.Context, id uuid.UUID) error

	// Messages
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before int64) ([]models.Message, error)
	UpdateMessageBody(ctx context.Context, conversationID uuid.UUID, messageID, body string, mentions []mention.IndexItem) error
}
