package handlers

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/mention"
	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/models"
	"github.com/tetherchat/tether/internal/realtime"
	"github.com/tetherchat/tether/internal/store"
)

const maxMessageBody = 16 * 1024 // bytes, after normalization

// PostMessageRequest appends a message to a conversation.
type PostMessageRequest struct {
	AuthorType models.AuthorType `json:"author_type"`
	AuthorID   string            `json:"author_id"`
	Body       string            `json:"body"`
}

// PostMessage appends a message. The body is normalized to NFC before
// the mention index is computed, so the stored body and the index agree
// on byte offsets and identity.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Widget callers are always the visitor; the dashboard picks its
	// author explicitly.
	if principal.Kind() == models.KeyKindPublic {
		req.AuthorType = models.AuthorVisitor
		if req.AuthorID == "" {
			req.AuthorID = conv.VisitorID
		}
	}
	if !models.ValidAuthorType(req.AuthorType) {
		h.Error(w, http.StatusBadRequest, "invalid author_type")
		return
	}
	if strings.TrimSpace(req.AuthorID) == "" {
		h.Error(w, http.StatusBadRequest, "author_id is required")
		return
	}

	body := norm.NFC.String(req.Body)
	if strings.TrimSpace(body) == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(body) > maxMessageBody {
		h.Error(w, http.StatusRequestEntityTooLarge, "body exceeds maximum length")
		return
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ConversationID: conv.ID,
		WebsiteID:      conv.WebsiteID,
		OrganizationID: conv.OrganizationID,
		AuthorType:     req.AuthorType,
		AuthorID:       req.AuthorID,
		Body:           body,
		Mentions:       mention.BuildIndex(body),
		Timestamp:      now.UnixMilli(),
	}

	if err := h.store.InsertMessage(r.Context(), msg); err != nil {
		h.logger.Error().Err(err).Msg("message insert failed")
		h.Error(w, http.StatusInternalServerError, "failed to post message")
		return
	}
	metrics.MessagesPosted.WithLabelValues(string(msg.AuthorType)).Inc()

	h.publish(r, realtime.NewMessage{
		ConversationID: conv.ID.String(),
		WebsiteID:      conv.WebsiteID.String(),
		OrganizationID: conv.OrganizationID.String(),
		MessageID:      msg.ID,
		AuthorType:     string(msg.AuthorType),
		AuthorID:       msg.AuthorID,
		Body:           msg.Body,
	})

	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages pages backwards through a conversation's history. The
// "before" cursor is a Unix-millisecond timestamp; omitted means now.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	before := int64(0)
	if raw := r.URL.Query().Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = n
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID, limit, before)
	if err != nil {
		h.logger.Error().Err(err).Msg("message listing failed")
		h.Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"limit":    limit,
	})
}

// EditMessageRequest replaces a message body.
type EditMessageRequest struct {
	Body string `json:"body"`
}

// EditMessageResponse returns the updated message plus the mention
// delta relative to the previous body.
type EditMessageResponse struct {
	Message *models.Message `json:"message"`
	Added   []string        `json:"mentions_added"`
	Removed []string        `json:"mentions_removed"`
}

// EditMessage replaces a body, recomputes the full mention index, and
// reports the delta. The index is never patched incrementally: a full
// rebuild keeps it canonical no matter how the body changed.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadScopedConversation(w, r)
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if _, err := ulid.ParseStrict(messageID); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID")
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	body := norm.NFC.String(req.Body)
	if strings.TrimSpace(body) == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(body) > maxMessageBody {
		h.Error(w, http.StatusRequestEntityTooLarge, "body exceeds maximum length")
		return
	}

	msg, err := h.store.GetMessage(r.Context(), conv.ID, messageID)
	if err != nil {
		h.logger.Error().Err(err).Msg("message lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}

	newIndex := mention.BuildIndex(body)
	added, removed := mention.Diff(msg.Mentions, newIndex)

	if err := h.store.UpdateMessageBody(r.Context(), conv.ID, messageID, body, newIndex); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.Error().Err(err).Msg("message update failed")
		h.Error(w, http.StatusInternalServerError, "failed to edit message")
		return
	}
	msg.Body = body
	msg.Mentions = newIndex

	h.JSON(w, http.StatusOK, EditMessageResponse{
		Message: msg,
		Added:   added,
		Removed: removed,
	})
}
