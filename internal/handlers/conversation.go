package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/models"
	"github.com/tetherchat/tether/internal/realtime"
	"github.com/tetherchat/tether/internal/store"
)

// CreateConversationRequest opens a visitor thread.
type CreateConversationRequest struct {
	VisitorID string `json:"visitor_id"`
}

// CreateConversation opens a conversation on the caller's website.
// Widget-originated: the public key pins the website, so the request
// cannot name one.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal.Resolved.Website == nil {
		h.Error(w, http.StatusForbidden, "key is not bound to a website")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.VisitorID == "" {
		h.Error(w, http.StatusBadRequest, "visitor_id is required")
		return
	}

	conv := &models.Conversation{
		WebsiteID:      principal.Resolved.Website.ID,
		OrganizationID: principal.Resolved.Organization.ID,
		VisitorID:      req.VisitorID,
		Status:         models.ConversationOpen,
	}
	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		h.logger.Error().Err(err).Msg("conversation creation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.JSON(w, http.StatusCreated, conv)
}

// ListConversations pages through the caller's organization threads,
// newest first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	convs, err := h.store.ListConversations(r.Context(), principal.Resolved.Organization.ID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("conversation listing failed")
		h.Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"limit":         limit,
		"offset":        offset,
	})
}

// GetConversation returns one conversation within the caller's scope.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// UpdateConversationStatusRequest moves a thread through the operator
// workflow.
type UpdateConversationStatusRequest struct {
	Status models.ConversationStatus `json:"status"`
}

// UpdateConversationStatus transitions a conversation and broadcasts
// the change.
func (h *Handler) UpdateConversationStatus(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	var req UpdateConversationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !models.ValidConversationStatus(req.Status) {
		h.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.store.UpdateConversationStatus(r.Context(), conv.ID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error().Err(err).Msg("status update failed")
		h.Error(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	conv.Status = req.Status

	h.publish(r, realtime.ConversationStatusChanged{
		ConversationID: conv.ID.String(),
		WebsiteID:      conv.WebsiteID.String(),
		OrganizationID: conv.OrganizationID.String(),
		Status:         string(req.Status),
	})

	h.JSON(w, http.StatusOK, conv)
}

// AssignConversationRequest binds an operator to a thread.
type AssignConversationRequest struct {
	AssigneeID uuid.UUID `json:"assignee_id"`
}

// AssignConversation assigns an operator and broadcasts the assignment.
func (h *Handler) AssignConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	var req AssignConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AssigneeID == uuid.Nil {
		h.Error(w, http.StatusBadRequest, "assignee_id is required")
		return
	}

	if err := h.store.AssignConversation(r.Context(), conv.ID, req.AssigneeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error().Err(err).Msg("assignment failed")
		h.Error(w, http.StatusInternalServerError, "failed to assign conversation")
		return
	}
	conv.AssigneeID = &req.AssigneeID

	h.publish(r, realtime.ConversationAssigned{
		ConversationID: conv.ID.String(),
		WebsiteID:      conv.WebsiteID.String(),
		OrganizationID: conv.OrganizationID.String(),
		AssigneeID:     req.AssigneeID.String(),
	})

	h.JSON(w, http.StatusOK, conv)
}

// DeleteConversation soft-deletes a thread. The row survives for audit
// history but disappears from every subsequent read.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	if err := h.store.SoftDeleteConversation(r.Context(), conv.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error().Err(err).Msg("soft delete failed")
		h.Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadScopedConversation loads the conversation named in the URL and
// verifies it sits inside the caller's scope: same organization always,
// and same website for public-key callers.
func (h *Handler) loadScopedConversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID")
		return nil, false
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("conversation lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	if conv == nil || conv.OrganizationID != principal.Resolved.Organization.ID {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if principal.Kind() == models.KeyKindPublic {
		if principal.Resolved.Website == nil || conv.WebsiteID != principal.Resolved.Website.ID {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return nil, false
		}
	}
	return conv, true
}

// publish broadcasts an event, logging failures without failing the
// HTTP request: the write already committed, and subscribers tolerate
// missed events by re-syncing over the REST surface.
func (h *Handler) publish(r *http.Request, event realtime.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(r.Context(), event); err != nil {
		h.logger.Error().Err(err).Str("event", string(event.Kind())).Msg("event publish failed")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
