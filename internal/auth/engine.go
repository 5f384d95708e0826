// Package auth admits a request into a tenant's scope. It validates
// key format, resolves the key through a bounded process-local cache,
// and for browser-exposed public keys enforces the website's origin and
// domain-whitelist policy.
package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/models"
)

// Engine authenticates raw keys. Check ordering is deliberate: cheap
// local format checks run before any store I/O, and origin checks run
// only after a record is known to exist, so failure messages never leak
// whether a key exists versus is malformed.
type Engine struct {
	cache      *KeyCache
	production bool
	logger     zerolog.Logger
}

// NewEngine creates an authentication engine. production gates the
// HTTPS and localhost enforcement for non-test public keys.
func NewEngine(cache *KeyCache, production bool, logger zerolog.Logger) *Engine {
	return &Engine{
		cache:      cache,
		production: production,
		logger:     logger.With().Str("component", "auth").Logger(),
	}
}

// Cache exposes the engine's key cache so revocation paths can evict
// entries immediately.
func (e *Engine) Cache() *KeyCache {
	return e.cache
}

// AuthenticateSecretKey validates a server-side secret key. Secret keys
// are trusted server-to-server credentials and never undergo the origin
// gate. The returned bool reports whether the key is a test key.
func (e *Engine) AuthenticateSecretKey(ctx context.Context, rawKey string) (*models.ResolvedKey, bool, error) {
	if !ValidSecretKeyFormat(rawKey) {
		metrics.AuthAttempts.WithLabelValues("secret", "invalid_format").Inc()
		return nil, false, errInvalidKeyFormat()
	}

	resolved, err := e.resolve(ctx, rawKey, "secret")
	if err != nil {
		return nil, false, err
	}
	if resolved.Key.Kind != models.KeyKindSecret {
		metrics.AuthAttempts.WithLabelValues("secret", "invalid_key").Inc()
		return nil, false, errInvalidKey()
	}

	metrics.AuthAttempts.WithLabelValues("secret", "ok").Inc()
	return resolved, IsTestKey(rawKey), nil
}

// AuthenticatePublicKey validates a browser-exposed public key against
// the website's origin policy. origin is the raw Origin header value;
// it may be empty when the client sent none.
func (e *Engine) AuthenticatePublicKey(ctx context.Context, rawKey, origin string) (*models.ResolvedKey, bool, error) {
	if !ValidPublicKeyFormat(rawKey) {
		metrics.AuthAttempts.WithLabelValues("public", "invalid_format").Inc()
		return nil, false, errInvalidKeyFormat()
	}

	resolved, err := e.resolve(ctx, rawKey, "public")
	if err != nil {
		return nil, false, err
	}
	if resolved.Key.Kind != models.KeyKindPublic {
		metrics.AuthAttempts.WithLabelValues("public", "invalid_key").Inc()
		return nil, false, errInvalidKey()
	}

	if HasOriginPolicy(resolved.Website) {
		if authErr := e.checkOrigin(rawKey, resolved.Website, origin); authErr != nil {
			metrics.AuthAttempts.WithLabelValues("public", authErr.Code).Inc()
			e.logger.Debug().
				Str("code", authErr.Code).
				Str("origin", origin).
				Str("website_id", resolved.Website.ID.String()).
				Msg("origin gate rejected request")
			return nil, false, authErr
		}
	}

	metrics.AuthAttempts.WithLabelValues("public", "ok").Inc()
	return resolved, IsTestKey(rawKey), nil
}

// resolve looks the key up through the cache. Store failures pass
// through untyped; absence becomes a typed resolution error.
func (e *Engine) resolve(ctx context.Context, rawKey, kind string) (*models.ResolvedKey, error) {
	resolved, err := e.cache.Resolve(ctx, rawKey)
	if err != nil {
		e.logger.Error().Err(err).Msg("key store lookup failed")
		return nil, err
	}
	if resolved == nil {
		metrics.AuthAttempts.WithLabelValues(kind, "invalid_key").Inc()
		return nil, errInvalidKey()
	}
	return resolved, nil
}
