package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/models"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is an authenticated caller bound to its tenant scope.
type Principal struct {
	Resolved *models.ResolvedKey
	IsTest   bool
}

// Kind returns the key kind the caller authenticated with.
func (p *Principal) Kind() models.KeyKind {
	return p.Resolved.Key.Kind
}

// AuthMiddleware binds requests to a tenant scope before any handler
// touches data.
type AuthMiddleware struct {
	engine *auth.Engine
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(engine *auth.Engine) *AuthMiddleware {
	return &AuthMiddleware{engine: engine}
}

// RequireSecretKey authenticates server-to-server callers via an
// "Authorization: Bearer sk_..." header.
func (m *AuthMiddleware) RequireSecretKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey, ok := bearerToken(r)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		resolved, isTest, err := m.engine.AuthenticateSecretKey(r.Context(), rawKey)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), &Principal{
			Resolved: resolved,
			IsTest:   isTest,
		})))
	})
}

// RequirePublicKey authenticates widget callers. The key arrives in the
// X-Tether-Token header or, for websocket upgrades where custom headers
// are awkward, the "token" query parameter. The Origin header feeds the
// engine's origin gate.
func (m *AuthMiddleware) RequirePublicKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("X-Tether-Token")
		if rawKey == "" {
			rawKey = r.URL.Query().Get("token")
		}
		if rawKey == "" {
			jsonError(w, http.StatusUnauthorized, "missing public key token")
			return
		}

		resolved, isTest, err := m.engine.AuthenticatePublicKey(r.Context(), rawKey, r.Header.Get("Origin"))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), &Principal{
			Resolved: resolved,
			IsTest:   isTest,
		})))
	})
}

// bearerToken extracts a bearer credential from the Authorization
// header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// GetPrincipal retrieves the authenticated principal from the request
// context.
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// writeAuthError translates the engine's typed errors into responses.
// Auth errors carry their own status; anything else is a store outage.
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(authErr.Status)
		json.NewEncoder(w).Encode(map[string]string{
			"error": authErr.Message,
			"code":  authErr.Code,
		})
		return
	}
	jsonError(w, http.StatusInternalServerError, "authentication unavailable")
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
