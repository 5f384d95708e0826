package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherchat/tether/internal/models"
)

func newTestEngine(store *fakeKeyStore, production bool) *Engine {
	cache := NewKeyCache(store, 100, DefaultCacheTTL)
	return NewEngine(cache, production, zerolog.Nop())
}

func TestAuthenticateSecretKey(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindSecret, false)
	want := store.add(raw, models.KeyKindSecret)

	engine := newTestEngine(store, true)
	ctx := context.Background()

	resolved, isTest, err := engine.AuthenticateSecretKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, want.Key.ID, resolved.Key.ID)
	assert.False(t, isTest)

	// Secret keys never undergo the origin gate, whitelist or not.
	rawListed := MintKey(models.KeyKindSecret, false)
	store.add(rawListed, models.KeyKindSecret, "example.com")
	_, _, err = engine.AuthenticateSecretKey(ctx, rawListed)
	assert.NoError(t, err)
}

func TestAuthenticateSecretKeyTestVariant(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindSecret, true)
	store.add(raw, models.KeyKindSecret)

	engine := newTestEngine(store, true)
	_, isTest, err := engine.AuthenticateSecretKey(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, isTest)
}

func TestAuthenticateSecretKeyRejections(t *testing.T) {
	store := newFakeKeyStore()
	engine := newTestEngine(store, true)
	ctx := context.Background()

	// Malformed: no store lookup happens at all.
	_, _, err := engine.AuthenticateSecretKey(ctx, "not-a-key")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_key_format", authErr.Code)
	assert.Equal(t, 401, authErr.Status)
	assert.Empty(t, store.lookups)

	// Well-formed but never issued.
	_, _, err = engine.AuthenticateSecretKey(ctx, MintKey(models.KeyKindSecret, false))
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_key", authErr.Code)

	// A public key presented as a secret key fails the format check.
	pub := MintKey(models.KeyKindPublic, false)
	store.add(pub, models.KeyKindPublic)
	_, _, err = engine.AuthenticateSecretKey(ctx, pub)
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_key_format", authErr.Code)
}

func TestAuthenticatePublicKeyFullChain(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindPublic, false)
	store.add(raw, models.KeyKindPublic, "*.example.com")

	engine := newTestEngine(store, true)
	ctx := context.Background()

	resolved, isTest, err := engine.AuthenticatePublicKey(ctx, raw, "https://app.example.com")
	require.NoError(t, err)
	assert.NotNil(t, resolved.Website)
	assert.False(t, isTest)

	_, _, err = engine.AuthenticatePublicKey(ctx, raw, "https://evil.io")
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "domain_not_whitelisted", authErr.Code)
	assert.Equal(t, 403, authErr.Status)

	_, _, err = engine.AuthenticatePublicKey(ctx, raw, "null")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "null_origin", authErr.Code)
}

func TestAuthenticatePublicKeyNoOriginPolicy(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindPublic, false)
	store.add(raw, models.KeyKindPublic) // no whitelisted domains

	engine := newTestEngine(store, true)

	// With no whitelist configured the whole origin gate is skipped,
	// even with no Origin header at all.
	_, _, err := engine.AuthenticatePublicKey(context.Background(), raw, "")
	assert.NoError(t, err)
}

func TestAuthenticatePublicKeyNoWebsite(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindPublic, false)
	resolved := store.add(raw, models.KeyKindPublic, "example.com")
	resolved.Website = nil
	resolved.Key.WebsiteID = nil

	engine := newTestEngine(store, true)

	// Keys with no associated website (internal/admin keys) skip the
	// origin gate entirely.
	_, _, err := engine.AuthenticatePublicKey(context.Background(), raw, "")
	assert.NoError(t, err)
}

func TestAuthenticateStoreErrorPassesThrough(t *testing.T) {
	store := newFakeKeyStore()
	store.err = errors.New("connection refused")

	engine := newTestEngine(store, true)
	_, _, err := engine.AuthenticateSecretKey(context.Background(), MintKey(models.KeyKindSecret, false))
	require.Error(t, err)

	var authErr *Error
	assert.False(t, errors.As(err, &authErr), "store outages are not auth rejections")
}

func TestAuthenticationUsesCache(t *testing.T) {
	store := newFakeKeyStore()
	raw := MintKey(models.KeyKindPublic, false)
	store.add(raw, models.KeyKindPublic, "example.com")

	engine := newTestEngine(store, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := engine.AuthenticatePublicKey(ctx, raw, "https://example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.lookups[raw])
}
