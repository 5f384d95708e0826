package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/realtime"
)

// PresenceRequest identifies the visitor session.
type PresenceRequest struct {
	VisitorID string `json:"visitor_id"`
}

// Heartbeat marks a visitor online and refreshes the presence TTL. An
// online event is only broadcast on the offline-to-online transition;
// steady-state heartbeats are silent.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}
	principal := middleware.GetPrincipal(r.Context())
	if principal.Resolved.Website == nil {
		h.Error(w, http.StatusForbidden, "key is not bound to a website")
		return
	}

	visitorID, ok := h.presenceVisitor(w, r)
	if !ok {
		return
	}

	websiteID := principal.Resolved.Website.ID.String()
	cameOnline, err := h.presence.MarkOnline(r.Context(), websiteID, visitorID)
	if err != nil {
		h.logger.Error().Err(err).Msg("presence heartbeat failed")
		h.Error(w, http.StatusInternalServerError, "presence unavailable")
		return
	}

	if cameOnline {
		h.publish(r, realtime.VisitorPresence{
			WebsiteID:      websiteID,
			OrganizationID: principal.Resolved.Organization.ID.String(),
			VisitorID:      visitorID,
			Online:         true,
		})
	}

	h.JSON(w, http.StatusOK, map[string]bool{"online": true})
}

// Goodbye marks a visitor offline ahead of the TTL, for widgets that
// get a chance to say so before unloading.
func (h *Handler) Goodbye(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}
	principal := middleware.GetPrincipal(r.Context())
	if principal.Resolved.Website == nil {
		h.Error(w, http.StatusForbidden, "key is not bound to a website")
		return
	}

	visitorID, ok := h.presenceVisitor(w, r)
	if !ok {
		return
	}

	websiteID := principal.Resolved.Website.ID.String()
	wasOnline, err := h.presence.MarkOffline(r.Context(), websiteID, visitorID)
	if err != nil {
		h.logger.Error().Err(err).Msg("presence clear failed")
		h.Error(w, http.StatusInternalServerError, "presence unavailable")
		return
	}

	if wasOnline {
		h.publish(r, realtime.VisitorPresence{
			WebsiteID:      websiteID,
			OrganizationID: principal.Resolved.Organization.ID.String(),
			VisitorID:      visitorID,
			Online:         false,
		})
	}

	h.JSON(w, http.StatusOK, map[string]bool{"online": false})
}

func (h *Handler) presenceVisitor(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.VisitorID == "" {
		h.Error(w, http.StatusBadRequest, "visitor_id is required")
		return "", false
	}
	return req.VisitorID, true
}
