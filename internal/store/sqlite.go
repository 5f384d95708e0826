package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tetherchat/tether/internal/mention"
	"github.com/tetherchat/tether/internal/models"
)

// SQLiteStore handles SQLite database operations. It serves development
// and tests; production runs PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/tether.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/tether.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS websites (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		domains TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		raw_key TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		test INTEGER NOT NULL DEFAULT 0,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		website_id TEXT REFERENCES websites(id),
		creator_id TEXT,
		created_at DATETIME NOT NULL,
		revoked_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		website_id TEXT NOT NULL REFERENCES websites(id),
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		visitor_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assignee_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		website_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		author_type TEXT NOT NULL,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		mentions TEXT,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_raw_key ON api_keys(raw_key);
	CREATE INDEX IF NOT EXISTS idx_conversations_org ON conversations(organization_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, ts);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateOrganization creates a new organization.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, name string) (*models.Organization, error) {
	org := &models.Organization{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
	`, org.ID.String(), org.Name, org.CreatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization retrieves an organization by ID.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org := &models.Organization{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM organizations WHERE id = ?
	`, id.String()).Scan(&idStr, &org.Name, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	org.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// CreateWebsite creates a website under an organization.
func (s *SQLiteStore) CreateWebsite(ctx context.Context, organizationID uuid.UUID, name string, domains []string) (*models.Website, error) {
	if domains == nil {
		domains = []string{}
	}
	encoded, err := json.Marshal(domains)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	site := &models.Website{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Name:           name,
		Domains:        domains,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO websites (id, organization_id, name, domains, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, site.ID.String(), organizationID.String(), name, string(encoded), now, now)
	if err != nil {
		return nil, err
	}
	return site, nil
}

// GetWebsite retrieves a website by ID.
func (s *SQLiteStore) GetWebsite(ctx context.Context, id uuid.UUID) (*models.Website, error) {
	site := &models.Website{}
	var (
		idStr, orgStr, domains string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, domains, created_at, updated_at
		FROM websites WHERE id = ?
	`, id.String()).Scan(&idStr, &orgStr, &site.Name, &domains, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if site.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if site.OrganizationID, err = uuid.Parse(orgStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(domains), &site.Domains); err != nil {
		return nil, err
	}
	return site, nil
}

// UpdateWebsiteDomains replaces a website's whitelist.
func (s *SQLiteStore) UpdateWebsiteDomains(ctx context.Context, id uuid.UUID, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	encoded, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE websites SET domains = ?, updated_at = ? WHERE id = ?
	`, string(encoded), time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	return requireRows(res)
}

// CreateApiKey inserts a minted key.
func (s *SQLiteStore) CreateApiKey(ctx context.Context, key *models.ApiKey) error {
	key.ID = uuid.New()
	key.Active = true
	key.CreatedAt = time.Now().UTC()

	var websiteID *string
	if key.WebsiteID != nil {
		str := key.WebsiteID.String()
		websiteID = &str
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, raw_key, kind, active, test, organization_id, website_id, creator_id, created_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
	`, key.ID.String(), key.RawKey, string(key.Kind), key.Test,
		key.OrganizationID.String(), websiteID, key.CreatorID.String(), key.CreatedAt)
	return err
}

// LookupKey resolves an active raw key to its key, website and
// organization.
func (s *SQLiteStore) LookupKey(ctx context.Context, rawKey string) (*models.ResolvedKey, error) {
	resolved := &models.ResolvedKey{Organization: &models.Organization{}}
	var (
		keyID, kind, orgID, creatorID string
		websiteID                     *string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.raw_key, k.kind, k.active, k.test, k.organization_id,
		       k.website_id, k.creator_id, k.created_at, k.revoked_at,
		       o.name, o.created_at
		FROM api_keys k
		JOIN organizations o ON o.id = k.organization_id
		WHERE k.raw_key = ? AND k.active = 1
	`, rawKey).Scan(
		&keyID, &resolved.Key.RawKey, &kind, &resolved.Key.Active,
		&resolved.Key.Test, &orgID, &websiteID, &creatorID,
		&resolved.Key.CreatedAt, &resolved.Key.RevokedAt,
		&resolved.Organization.Name, &resolved.Organization.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	resolved.Key.Kind = models.KeyKind(kind)
	if resolved.Key.ID, err = uuid.Parse(keyID); err != nil {
		return nil, err
	}
	if resolved.Key.OrganizationID, err = uuid.Parse(orgID); err != nil {
		return nil, err
	}
	if resolved.Key.CreatorID, err = uuid.Parse(creatorID); err != nil {
		return nil, err
	}
	resolved.Organization.ID = resolved.Key.OrganizationID

	if websiteID != nil {
		id, err := uuid.Parse(*websiteID)
		if err != nil {
			return nil, err
		}
		resolved.Key.WebsiteID = &id
		if resolved.Website, err = s.GetWebsite(ctx, id); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// ListWebsiteKeys lists all keys minted for a website, revoked ones
// included.
func (s *SQLiteStore) ListWebsiteKeys(ctx context.Context, websiteID uuid.UUID) ([]models.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw_key, kind, active, test, organization_id, website_id,
		       creator_id, created_at, revoked_at
		FROM api_keys WHERE website_id = ?
		ORDER BY created_at
	`, websiteID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// RevokeApiKey flips the active flag. The organization scope is part of
// the predicate so one tenant can never revoke another's key.
func (s *SQLiteStore) RevokeApiKey(ctx context.Context, id, organizationID uuid.UUID) (*models.ApiKey, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET active = 0, revoked_at = ? WHERE id = ? AND organization_id = ?
	`, time.Now().UTC(), id.String(), organizationID.String())
	if err != nil {
		return nil, err
	}
	if err := requireRows(res); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, raw_key, kind, active, test, organization_id, website_id,
		       creator_id, created_at, revoked_at
		FROM api_keys WHERE id = ?
	`, id.String())
	return scanApiKey(row)
}

// CreateConversation inserts a conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.Status == "" {
		conv.Status = models.ConversationOpen
	}
	conv.ID = uuid.New()
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, website_id, organization_id, visitor_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conv.ID.String(), conv.WebsiteID.String(), conv.OrganizationID.String(),
		conv.VisitorID, string(conv.Status), now, now)
	return err
}

// GetConversation retrieves a conversation by ID, excluding
// soft-deleted rows.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, website_id, organization_id, visitor_id, status, assignee_id,
		       created_at, updated_at
		FROM conversations WHERE id = ? AND deleted_at IS NULL
	`, id.String())
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// ListConversations lists an organization's conversations, most
// recently updated first, excluding soft-deleted rows.
func (s *SQLiteStore) ListConversations(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, website_id, organization_id, visitor_id, status, assignee_id,
		       created_at, updated_at
		FROM conversations
		WHERE organization_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, organizationID.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// UpdateConversationStatus transitions a conversation's status.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, string(status), time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	return requireRows(res)
}

// AssignConversation sets the operator responsible for a conversation.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id, assigneeID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET assignee_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, assigneeID.String(), time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	return requireRows(res)
}

// SoftDeleteConversation marks a conversation deleted.
func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, now, now, id.String())
	if err != nil {
		return err
	}
	return requireRows(res)
}

// InsertMessage persists a message with its precomputed mention index.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	mentions, err := marshalMentions(msg.Mentions)
	if err != nil {
		return err
	}
	var mentionsStr *string
	if mentions != nil {
		str := string(mentions)
		mentionsStr = &str
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, website_id, organization_id,
		                      author_type, author_id, body, mentions, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID.String(), msg.WebsiteID.String(),
		msg.OrganizationID.String(), string(msg.AuthorType), msg.AuthorID,
		msg.Body, mentionsStr, msg.Timestamp)
	return err
}

// GetMessage retrieves a message scoped to its conversation.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, website_id, organization_id, author_type,
		       author_id, body, mentions, ts
		FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID.String(), messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages retrieves messages newest first; before is an exclusive
// Unix-ms bound, 0 meaning "from the latest".
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before int64) ([]models.Message, error) {
	if before <= 0 {
		before = int64(^uint64(0) >> 1)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, website_id, organization_id, author_type,
		       author_id, body, mentions, ts
		FROM messages
		WHERE conversation_id = ? AND ts < ?
		ORDER BY ts DESC
		LIMIT ?
	`, conversationID.String(), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// UpdateMessageBody replaces a message body and its recomputed mention
// index in one write.
func (s *SQLiteStore) UpdateMessageBody(ctx context.Context, conversationID uuid.UUID, messageID, body string, mentions []mention.IndexItem) error {
	encoded, err := marshalMentions(mentions)
	if err != nil {
		return err
	}
	var mentionsStr *string
	if encoded != nil {
		str := string(encoded)
		mentionsStr = &str
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET body = ?, mentions = ?
		WHERE conversation_id = ? AND id = ?
	`, body, mentionsStr, conversationID.String(), messageID)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanApiKey(row rowScanner) (*models.ApiKey, error) {
	key := &models.ApiKey{}
	var (
		idStr, kind, orgStr, creatorStr string
		websiteStr                      *string
	)
	err := row.Scan(
		&idStr, &key.RawKey, &kind, &key.Active, &key.Test,
		&orgStr, &websiteStr, &creatorStr, &key.CreatedAt, &key.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	key.Kind = models.KeyKind(kind)
	if key.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if key.OrganizationID, err = uuid.Parse(orgStr); err != nil {
		return nil, err
	}
	if key.CreatorID, err = uuid.Parse(creatorStr); err != nil {
		return nil, err
	}
	if websiteStr != nil {
		id, err := uuid.Parse(*websiteStr)
		if err != nil {
			return nil, err
		}
		key.WebsiteID = &id
	}
	return key, nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var (
		idStr, siteStr, orgStr, status string
		assigneeStr                    *string
	)
	err := row.Scan(
		&idStr, &siteStr, &orgStr, &conv.VisitorID, &status, &assigneeStr,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Status = models.ConversationStatus(status)
	if conv.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if conv.WebsiteID, err = uuid.Parse(siteStr); err != nil {
		return nil, err
	}
	if conv.OrganizationID, err = uuid.Parse(orgStr); err != nil {
		return nil, err
	}
	if assigneeStr != nil {
		id, err := uuid.Parse(*assigneeStr)
		if err != nil {
			return nil, err
		}
		conv.AssigneeID = &id
	}
	return conv, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var (
		convStr, siteStr, orgStr, authorType string
		mentionsStr                          *string
	)
	err := row.Scan(
		&msg.ID, &convStr, &siteStr, &orgStr, &authorType,
		&msg.AuthorID, &msg.Body, &mentionsStr, &msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	msg.AuthorType = models.AuthorType(authorType)
	if msg.ConversationID, err = uuid.Parse(convStr); err != nil {
		return nil, err
	}
	if msg.WebsiteID, err = uuid.Parse(siteStr); err != nil {
		return nil, err
	}
	if msg.OrganizationID, err = uuid.Parse(orgStr); err != nil {
		return nil, err
	}
	if mentionsStr != nil {
		if msg.Mentions, err = unmarshalMentions([]byte(*mentionsStr)); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
