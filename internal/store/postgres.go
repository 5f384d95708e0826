package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetherchat/tether/internal/mention"
	"github.com/tetherchat/tether/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection
// pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS websites (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		organization_id UUID NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		domains TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		raw_key TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		test BOOLEAN NOT NULL DEFAULT FALSE,
		organization_id UUID NOT NULL REFERENCES organizations(id),
		website_id UUID REFERENCES websites(id),
		creator_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		revoked_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		website_id UUID NOT NULL REFERENCES websites(id),
		organization_id UUID NOT NULL REFERENCES organizations(id),
		visitor_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assignee_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		website_id UUID NOT NULL,
		organization_id UUID NOT NULL,
		author_type TEXT NOT NULL,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		mentions JSONB,
		ts BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_raw_key ON api_keys(raw_key);
	CREATE INDEX IF NOT EXISTS idx_websites_org ON websites(organization_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_org ON conversations(organization_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateOrganization creates a new organization.
func (s *PostgresStore) CreateOrganization(ctx context.Context, name string) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO organizations (name) VALUES ($1)
		RETURNING id, name, created_at
	`, name).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization retrieves an organization by ID.
func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

// CreateWebsite creates a website under an organization.
func (s *PostgresStore) CreateWebsite(ctx context.Context, organizationID uuid.UUID, name string, domains []string) (*models.Website, error) {
	if domains == nil {
		domains = []string{}
	}
	site := &models.Website{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO websites (organization_id, name, domains)
		VALUES ($1, $2, $3)
		RETURNING id, organization_id, name, domains, created_at, updated_at
	`, organizationID, name, domains).Scan(
		&site.ID, &site.OrganizationID, &site.Name, &site.Domains,
		&site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return site, nil
}

// GetWebsite retrieves a website by ID.
func (s *PostgresStore) GetWebsite(ctx context.Context, id uuid.UUID) (*models.Website, error) {
	site := &models.Website{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, domains, created_at, updated_at
		FROM websites WHERE id = $1
	`, id).Scan(
		&site.ID, &site.OrganizationID, &site.Name, &site.Domains,
		&site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return site, nil
}

// UpdateWebsiteDomains replaces a website's whitelist.
func (s *PostgresStore) UpdateWebsiteDomains(ctx context.Context, id uuid.UUID, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE websites SET domains = $2, updated_at = NOW() WHERE id = $1
	`, id, domains)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateApiKey inserts a minted key. The caller fills RawKey, Kind,
// Test and the tenant ids; the store fills ID and CreatedAt.
func (s *PostgresStore) CreateApiKey(ctx context.Context, key *models.ApiKey) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (raw_key, kind, active, test, organization_id, website_id, creator_id)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6)
		RETURNING id, created_at
	`, key.RawKey, key.Kind, key.Test, key.OrganizationID, key.WebsiteID, key.CreatorID).
		Scan(&key.ID, &key.CreatedAt)
}

// LookupKey resolves an active raw key to its key, website and
// organization. Inactive and unknown keys both return (nil, nil).
func (s *PostgresStore) LookupKey(ctx context.Context, rawKey string) (*models.ResolvedKey, error) {
	resolved := &models.ResolvedKey{Organization: &models.Organization{}}
	var (
		websiteID *uuid.UUID
		// LEFT JOIN columns: all nullable for keys with no website.
		siteOrgID   *uuid.UUID
		siteName    *string
		siteDomains []string
		siteCreated *time.Time
		siteUpdated *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT k.id, k.raw_key, k.kind, k.active, k.test, k.organization_id,
		       k.website_id, k.creator_id, k.created_at, k.revoked_at,
		       o.id, o.name, o.created_at,
		       w.organization_id, w.name, w.domains, w.created_at, w.updated_at
		FROM api_keys k
		JOIN organizations o ON o.id = k.organization_id
		LEFT JOIN websites w ON w.id = k.website_id
		WHERE k.raw_key = $1 AND k.active = TRUE
	`, rawKey).Scan(
		&resolved.Key.ID, &resolved.Key.RawKey, &resolved.Key.Kind,
		&resolved.Key.Active, &resolved.Key.Test, &resolved.Key.OrganizationID,
		&websiteID, &resolved.Key.CreatorID, &resolved.Key.CreatedAt, &resolved.Key.RevokedAt,
		&resolved.Organization.ID, &resolved.Organization.Name, &resolved.Organization.CreatedAt,
		&siteOrgID, &siteName, &siteDomains, &siteCreated, &siteUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	resolved.Key.WebsiteID = websiteID
	if websiteID != nil {
		resolved.Website = &models.Website{
			ID:             *websiteID,
			OrganizationID: *siteOrgID,
			Name:           *siteName,
			Domains:        siteDomains,
			CreatedAt:      *siteCreated,
			UpdatedAt:      *siteUpdated,
		}
	}
	return resolved, nil
}

// ListWebsiteKeys lists all keys minted for a website, revoked ones
// included (they remain visible for audit history).
func (s *PostgresStore) ListWebsiteKeys(ctx context.Context, websiteID uuid.UUID) ([]models.ApiKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, raw_key, kind, active, test, organization_id, website_id,
		       creator_id, created_at, revoked_at
		FROM api_keys WHERE website_id = $1
		ORDER BY created_at
	`, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		var key models.ApiKey
		if err := rows.Scan(
			&key.ID, &key.RawKey, &key.Kind, &key.Active, &key.Test,
			&key.OrganizationID, &key.WebsiteID, &key.CreatorID,
			&key.CreatedAt, &key.RevokedAt,
		); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeApiKey flips the active flag. The key row is kept; audit
// history may still reference it. The organization scope is part of the
// predicate so one tenant can never revoke another's key.
func (s *PostgresStore) RevokeApiKey(ctx context.Context, id, organizationID uuid.UUID) (*models.ApiKey, error) {
	key := &models.ApiKey{}
	err := s.pool.QueryRow(ctx, `
		UPDATE api_keys SET active = FALSE, revoked_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING id, raw_key, kind, active, test, organization_id, website_id,
		          creator_id, created_at, revoked_at
	`, id, organizationID).Scan(
		&key.ID, &key.RawKey, &key.Kind, &key.Active, &key.Test,
		&key.OrganizationID, &key.WebsiteID, &key.CreatorID,
		&key.CreatedAt, &key.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// CreateConversation inserts a conversation; the store fills ID and the
// timestamps.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.Status == "" {
		conv.Status = models.ConversationOpen
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO conversations (website_id, organization_id, visitor_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, conv.WebsiteID, conv.OrganizationID, conv.VisitorID, conv.Status).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
}

// GetConversation retrieves a conversation by ID, excluding
// soft-deleted rows.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, website_id, organization_id, visitor_id, status, assignee_id,
		       created_at, updated_at
		FROM conversations WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&conv.ID, &conv.WebsiteID, &conv.OrganizationID, &conv.VisitorID,
		&conv.Status, &conv.AssigneeID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// ListConversations lists an organization's conversations, most
// recently updated first, excluding soft-deleted rows.
func (s *PostgresStore) ListConversations(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, website_id, organization_id, visitor_id, status, assignee_id,
		       created_at, updated_at
		FROM conversations
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, organizationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.WebsiteID, &conv.OrganizationID, &conv.VisitorID,
			&conv.Status, &conv.AssigneeID, &conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// UpdateConversationStatus transitions a conversation's status.
func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignConversation sets the operator responsible for a conversation.
func (s *PostgresStore) AssignConversation(ctx context.Context, id, assigneeID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET assignee_id = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, assigneeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteConversation marks a conversation deleted; the row and its
// messages are kept.
func (s *PostgresStore) SoftDeleteConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage persists a message with its precomputed mention index.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	mentions, err := marshalMentions(msg.Mentions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, website_id, organization_id,
		                      author_type, author_id, body, mentions, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ConversationID, msg.WebsiteID, msg.OrganizationID,
		msg.AuthorType, msg.AuthorID, msg.Body, mentions, msg.Timestamp)
	return err
}

// GetMessage retrieves a message scoped to its conversation.
func (s *PostgresStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	msg := &models.Message{}
	var mentions []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, website_id, organization_id, author_type,
		       author_id, body, mentions, ts
		FROM messages WHERE conversation_id = $1 AND id = $2
	`, conversationID, messageID).Scan(
		&msg.ID, &msg.ConversationID, &msg.WebsiteID, &msg.OrganizationID,
		&msg.AuthorType, &msg.AuthorID, &msg.Body, &mentions, &msg.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if msg.Mentions, err = unmarshalMentions(mentions); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages retrieves messages newest first; before is an exclusive
// Unix-ms bound, 0 meaning "from the latest".
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before int64) ([]models.Message, error) {
	if before <= 0 {
		before = int64(^uint64(0) >> 1)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, website_id, organization_id, author_type,
		       author_id, body, mentions, ts
		FROM messages
		WHERE conversation_id = $1 AND ts < $2
		ORDER BY ts DESC
		LIMIT $3
	`, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			msg      models.Message
			mentions []byte
		)
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.WebsiteID, &msg.OrganizationID,
			&msg.AuthorType, &msg.AuthorID, &msg.Body, &mentions, &msg.Timestamp,
		); err != nil {
			return nil, err
		}
		if msg.Mentions, err = unmarshalMentions(mentions); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// UpdateMessageBody replaces a message body and its recomputed mention
// index in one write.
func (s *PostgresStore) UpdateMessageBody(ctx context.Context, conversationID uuid.UUID, messageID, body string, mentions []mention.IndexItem) error {
	encoded, err := marshalMentions(mentions)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET body = $3, mentions = $4
		WHERE conversation_id = $1 AND id = $2
	`, conversationID, messageID, body, encoded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalMentions(items []mention.IndexItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

func unmarshalMentions(data []byte) ([]mention.IndexItem, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []mention.IndexItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
