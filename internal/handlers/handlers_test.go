package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherchat/tether/internal/api"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/handlers"
	"github.com/tetherchat/tether/internal/models"
	"github.com/tetherchat/tether/internal/realtime"
	"github.com/tetherchat/tether/internal/store"
)

// captureBroadcaster records pushes for assertions. Listen is unused by
// these tests.
type captureBroadcaster struct {
	mu     sync.Mutex
	pushes map[realtime.Channel][][]byte
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{pushes: map[realtime.Channel][][]byte{}}
}

func (b *captureBroadcaster) Push(_ context.Context, channel realtime.Channel, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes[channel] = append(b.pushes[channel], payload)
	return nil
}

func (b *captureBroadcaster) Listen(context.Context, ...realtime.Channel) (realtime.Stream, error) {
	panic("not used")
}

func (b *captureBroadcaster) channelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pushes)
}

func (b *captureBroadcaster) lastOn(channel realtime.Channel) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	payloads := b.pushes[channel]
	if len(payloads) == 0 {
		return nil
	}
	return payloads[len(payloads)-1]
}

type testEnv struct {
	router      http.Handler
	store       store.DataStore
	broadcaster *captureBroadcaster
	org         *models.Organization
	adminKey    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	org, err := st.CreateOrganization(ctx, "acme")
	require.NoError(t, err)

	adminKey := auth.MintKey(models.KeyKindSecret, false)
	require.NoError(t, st.CreateApiKey(ctx, &models.ApiKey{
		RawKey:         adminKey,
		Kind:           models.KeyKindSecret,
		OrganizationID: org.ID,
	}))

	logger := zerolog.Nop()
	cache := auth.NewKeyCache(st, 0, 0)
	engine := auth.NewEngine(cache, false, logger)

	broadcaster := newCaptureBroadcaster()
	publisher := realtime.NewPublisher(broadcaster, logger)

	h := handlers.NewHandler(st, publisher, nil, nil, cache, logger)

	return &testEnv{
		router:      api.NewRouter(logger, h, engine),
		store:       st,
		broadcaster: broadcaster,
		org:         org,
		adminKey:    adminKey,
	}
}

func (e *testEnv) do(t *testing.T, method, path, secretKey, publicKey, origin string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+secretKey)
	}
	if publicKey != "" {
		req.Header.Set("X-Tether-Token", publicKey)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) provisionWebsite(t *testing.T, name string, domains ...string) handlers.CreateWebsiteResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/websites", e.adminKey, "", "", handlers.CreateWebsiteRequest{
		Name:    name,
		Domains: domains,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.CreateWebsiteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// keyOf picks the minted key matching kind and test flag.
func keyOf(t *testing.T, resp handlers.CreateWebsiteResponse, kind models.KeyKind, test bool) handlers.KeyResponse {
	t.Helper()
	for _, k := range resp.Keys {
		if k.Kind == kind && k.Test == test {
			return k
		}
	}
	t.Fatalf("no %s key with test=%v", kind, test)
	return handlers.KeyResponse{}
}

func TestProvisionWebsiteMintsFourKeys(t *testing.T) {
	env := newTestEnv(t)

	resp := env.provisionWebsite(t, "Acme Support", "example.com")
	require.NotNil(t, resp.Website)
	assert.Equal(t, env.org.ID, resp.Website.OrganizationID)
	require.Len(t, resp.Keys, 4)

	assert.True(t, auth.ValidPublicKeyFormat(keyOf(t, resp, models.KeyKindPublic, false).RawKey))
	assert.True(t, auth.ValidSecretKeyFormat(keyOf(t, resp, models.KeyKindSecret, true).RawKey))
	assert.True(t, auth.IsTestKey(keyOf(t, resp, models.KeyKindPublic, true).RawKey))
	assert.False(t, auth.IsTestKey(keyOf(t, resp, models.KeyKindSecret, false).RawKey))
}

func TestWidgetOriginGate(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support", "example.com")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	// Whitelisted origin passes.
	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "https://example.com",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Foreign origin is rejected by hostname.
	rec = env.do(t, http.MethodPost, "/conversations", "", pk, "https://evil.com",
		handlers.CreateConversationRequest{VisitorID: "v-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Missing origin on an origin-bearing key is rejected.
	rec = env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-3"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessagePublishesAndIndexesMentions(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	// Decomposed e + combining accent normalizes to NFC.
	body := "Café time, ping [Bob](mention:user:bob) and [Bob](mention:user:bob)"
	rec = env.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", "", pk, "",
		handlers.PostMessageRequest{Body: body})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Contains(t, msg.Body, "Café")
	assert.Equal(t, models.AuthorVisitor, msg.AuthorType)
	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, "bob", msg.Mentions[0].ID)
	assert.Equal(t, 2, msg.Mentions[0].Count)

	// Fan-out hit conversation, website and organization channels.
	assert.Equal(t, 3, env.broadcaster.channelCount())
	payload := env.broadcaster.lastOn(realtime.ConversationChannel(conv.ID.String()))
	require.NotNil(t, payload)
	event, err := realtime.Decode(payload)
	require.NoError(t, err)
	nm, ok := event.(realtime.NewMessage)
	require.True(t, ok)
	assert.Equal(t, msg.ID, nm.MessageID)
}

func TestEditMessageReportsMentionDiff(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = env.do(t, http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", "", pk, "",
		handlers.PostMessageRequest{Body: "ping [Bob](mention:user:bob)"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))

	rec = env.do(t, http.MethodPut,
		"/v1/conversations/"+conv.ID.String()+"/messages/"+msg.ID,
		env.adminKey, "", "",
		handlers.EditMessageRequest{Body: "ping [Ann](mention:user:ann) instead"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var edit handlers.EditMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edit))
	assert.Equal(t, []string{"user:ann"}, edit.Added)
	assert.Equal(t, []string{"user:bob"}, edit.Removed)
	require.Len(t, edit.Message.Mentions, 1)
	assert.Equal(t, "ann", edit.Message.Mentions[0].ID)
}

func TestConversationStatusAndAssignmentPublish(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = env.do(t, http.MethodPut, "/v1/conversations/"+conv.ID.String()+"/status",
		env.adminKey, "", "",
		handlers.UpdateConversationStatusRequest{Status: models.ConversationResolved})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := env.broadcaster.lastOn(realtime.ConversationChannel(conv.ID.String()))
	require.NotNil(t, payload)
	event, err := realtime.Decode(payload)
	require.NoError(t, err)
	sc, ok := event.(realtime.ConversationStatusChanged)
	require.True(t, ok)
	assert.Equal(t, string(models.ConversationResolved), sc.Status)

	// Unknown status is rejected before any write.
	rec = env.do(t, http.MethodPut, "/v1/conversations/"+conv.ID.String()+"/status",
		env.adminKey, "", "",
		map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyRevocationStopsAuthentication(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pubKey := keyOf(t, resp, models.KeyKindPublic, false)

	rec := env.do(t, http.MethodPost, "/conversations", "", pubKey.RawKey, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/keys/"+pubKey.ID.String()+"/revoke",
		env.adminKey, "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The revoked key was evicted from the cache, so the next request
	// misses and hits the store, which no longer serves it.
	rec = env.do(t, http.MethodPost, "/conversations", "", pubKey.RawKey, "",
		handlers.CreateConversationRequest{VisitorID: "v-2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCrossOrganizationIsolation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	// A second organization's secret key sees nothing of the first.
	ctx := context.Background()
	otherOrg, err := env.store.CreateOrganization(ctx, "rival")
	require.NoError(t, err)
	otherKey := auth.MintKey(models.KeyKindSecret, false)
	require.NoError(t, env.store.CreateApiKey(ctx, &models.ApiKey{
		RawKey:         otherKey,
		Kind:           models.KeyKindSecret,
		OrganizationID: otherOrg.ID,
	}))

	rec = env.do(t, http.MethodGet, "/v1/conversations/"+conv.ID.String(), otherKey, "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/websites/"+resp.Website.ID.String(), otherKey, "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKeyKindMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey
	sk := keyOf(t, resp, models.KeyKindSecret, false).RawKey

	// A public key on the dashboard surface is unauthorized.
	rec := env.do(t, http.MethodGet, "/v1/conversations", pk, "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A secret key on the widget surface is unauthorized, not leaked.
	rec = env.do(t, http.MethodPost, "/conversations", "", sk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSoftDeletedConversationDisappears(t *testing.T) {
	env := newTestEnv(t)
	resp := env.provisionWebsite(t, "Acme Support")
	pk := keyOf(t, resp, models.KeyKindPublic, false).RawKey

	rec := env.do(t, http.MethodPost, "/conversations", "", pk, "",
		handlers.CreateConversationRequest{VisitorID: "v-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = env.do(t, http.MethodDelete, "/v1/conversations/"+conv.ID.String(),
		env.adminKey, "", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/conversations/"+conv.ID.String(),
		env.adminKey, "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
