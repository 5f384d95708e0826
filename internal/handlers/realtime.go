package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/models"
	"github.com/tetherchat/tether/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// upgrader relies on the auth middleware's origin gate; a caller that
// reached this point already passed the whitelist, so the upgrade
// itself does not re-check Origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Realtime upgrades the connection to a websocket and streams events
// for the channels the caller is entitled to:
//
//   - public keys attach to exactly one conversation channel, named by
//     the "conversation" query parameter and validated against the
//     key's website. Website and organization channels carry other
//     visitors' activity, so widget callers never get them.
//   - secret keys attach to their website and organization channels.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	if h.subscriber == nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	principal := middleware.GetPrincipal(r.Context())

	channels, ok := h.entitledChannels(w, r, principal)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	metrics.RealtimeConnections.Inc()
	defer metrics.RealtimeConnections.Dec()

	// Serialize writes: the subscription goroutine and the ping loop
	// both write to the connection.
	outbound := make(chan []byte, 64)

	sub, err := h.subscriber.Subscribe(r.Context(), func(event realtime.Event) {
		payload, err := realtime.Encode(event)
		if err != nil {
			h.logger.Error().Err(err).Msg("event re-encode failed")
			return
		}
		select {
		case outbound <- payload:
		default:
			// Slow consumer: drop rather than stall every other
			// subscriber on this process.
			h.logger.Warn().Msg("realtime client too slow, dropping event")
		}
	}, channels...)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime subscribe failed")
		conn.Close()
		return
	}
	defer sub.Close()

	// Reader: the client sends nothing meaningful, but reading is how
	// pongs and close frames are processed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case payload := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// entitledChannels maps the principal's key kind to the channels it may
// listen on.
func (h *Handler) entitledChannels(w http.ResponseWriter, r *http.Request, principal *middleware.Principal) ([]realtime.Channel, bool) {
	orgID := principal.Resolved.Organization.ID

	if principal.Kind() == models.KeyKindSecret {
		channels := []realtime.Channel{realtime.OrganizationChannel(orgID.String())}
		if principal.Resolved.Website != nil {
			channels = append(channels, realtime.WebsiteChannel(principal.Resolved.Website.ID.String()))
		}
		return channels, true
	}

	// Public key: one conversation channel, verified to belong to the
	// key's website.
	convID, err := uuid.Parse(r.URL.Query().Get("conversation"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "conversation query parameter is required")
		return nil, false
	}

	conv, err := h.store.GetConversation(r.Context(), convID)
	if err != nil {
		h.logger.Error().Err(err).Msg("conversation lookup failed")
		h.Error(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	if conv == nil || principal.Resolved.Website == nil || conv.WebsiteID != principal.Resolved.Website.ID {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}

	return []realtime.Channel{realtime.ConversationChannel(convID.String())}, true
}
