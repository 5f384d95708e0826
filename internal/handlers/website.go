package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/models"
)

// CreateWebsiteRequest represents the website provisioning request.
type CreateWebsiteRequest struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains,omitempty"`
}

// KeyResponse exposes a minted key. RawKey is returned exactly once, at
// provisioning time.
type KeyResponse struct {
	ID     uuid.UUID      `json:"id"`
	RawKey string         `json:"raw_key,omitempty"`
	Kind   models.KeyKind `json:"kind"`
	Test   bool           `json:"test"`
	Active bool           `json:"active"`
}

// CreateWebsiteResponse carries the website plus its four freshly
// minted keys (production/test x secret/public).
type CreateWebsiteResponse struct {
	Website *models.Website `json:"website"`
	Keys    []KeyResponse   `json:"keys"`
}

// CreateWebsite provisions a website under the caller's organization
// and mints its key set.
func (h *Handler) CreateWebsite(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req CreateWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	orgID := principal.Resolved.Organization.ID
	site, err := h.store.CreateWebsite(r.Context(), orgID, req.Name, req.Domains)
	if err != nil {
		h.logger.Error().Err(err).Msg("website creation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create website")
		return
	}

	keys := make([]KeyResponse, 0, 4)
	for _, kind := range []models.KeyKind{models.KeyKindSecret, models.KeyKindPublic} {
		for _, test := range []bool{false, true} {
			key := &models.ApiKey{
				RawKey:         auth.MintKey(kind, test),
				Kind:           kind,
				Test:           test,
				OrganizationID: orgID,
				WebsiteID:      &site.ID,
				CreatorID:      principal.Resolved.Key.ID,
			}
			if err := h.store.CreateApiKey(r.Context(), key); err != nil {
				h.logger.Error().Err(err).Msg("key minting failed")
				h.Error(w, http.StatusInternalServerError, "failed to mint keys")
				return
			}
			keys = append(keys, KeyResponse{
				ID:     key.ID,
				RawKey: key.RawKey,
				Kind:   key.Kind,
				Test:   key.Test,
				Active: true,
			})
		}
	}

	h.JSON(w, http.StatusCreated, CreateWebsiteResponse{Website: site, Keys: keys})
}

// GetWebsite returns one of the caller's websites.
func (h *Handler) GetWebsite(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	site, ok := h.loadScopedWebsite(w, r, principal)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, site)
}

// UpdateWebsiteDomainsRequest replaces a website's whitelist.
type UpdateWebsiteDomainsRequest struct {
	Domains []string `json:"domains"`
}

// UpdateWebsiteDomains replaces the origin whitelist. The change
// reaches other process instances within one key-cache TTL.
func (h *Handler) UpdateWebsiteDomains(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	site, ok := h.loadScopedWebsite(w, r, principal)
	if !ok {
		return
	}

	var req UpdateWebsiteDomainsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.store.UpdateWebsiteDomains(r.Context(), site.ID, req.Domains); err != nil {
		h.logger.Error().Err(err).Msg("domain update failed")
		h.Error(w, http.StatusInternalServerError, "failed to update domains")
		return
	}
	site.Domains = req.Domains
	h.JSON(w, http.StatusOK, site)
}

// ListWebsiteKeys lists a website's keys, revoked included, with raw
// values redacted.
func (h *Handler) ListWebsiteKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	site, ok := h.loadScopedWebsite(w, r, principal)
	if !ok {
		return
	}

	keys, err := h.store.ListWebsiteKeys(r.Context(), site.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("key listing failed")
		h.Error(w, http.StatusInternalServerError, "failed to list keys")
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, KeyResponse{
			ID:     key.ID,
			Kind:   key.Kind,
			Test:   key.Test,
			Active: key.Active,
		})
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"keys": out})
}

// RevokeKey flips a key's active flag and evicts it from the local
// validation cache so this instance stops honoring it immediately.
// Other instances converge within one cache TTL.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid key ID")
		return
	}

	// Organization scope is part of the store predicate: an id outside
	// the caller's tenant reads as not-found, never as existence.
	revoked, err := h.store.RevokeApiKey(r.Context(), keyID, principal.Resolved.Organization.ID)
	if err != nil {
		h.Error(w, http.StatusNotFound, "key not found")
		return
	}

	if h.keyCache != nil {
		h.keyCache.Evict(revoked.RawKey)
	}

	h.JSON(w, http.StatusOK, KeyResponse{
		ID:     revoked.ID,
		Kind:   revoked.Kind,
		Test:   revoked.Test,
		Active: revoked.Active,
	})
}

// loadScopedWebsite loads the website named in the URL and verifies it
// belongs to the caller's organization.
func (h *Handler) loadScopedWebsite(w http.ResponseWriter, r *http.Request, principal *middleware.Principal) (*models.Website, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid website ID")
		return nil, false
	}

	site, err := h.store.GetWebsite(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("website lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to load website")
		return nil, false
	}
	if site == nil || site.OrganizationID != principal.Resolved.Organization.ID {
		h.Error(w, http.StatusNotFound, "website not found")
		return nil, false
	}
	return site, true
}
