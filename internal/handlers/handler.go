package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/realtime"
	"github.com/tetherchat/tether/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.DataStore
	publisher  *realtime.Publisher
	subscriber *realtime.Subscriber
	presence   *realtime.PresenceTracker
	keyCache   *auth.KeyCache
	logger     zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
// presence may be nil when no Redis is configured (development without
// realtime).
func NewHandler(
	st store.DataStore,
	publisher *realtime.Publisher,
	subscriber *realtime.Subscriber,
	presence *realtime.PresenceTracker,
	keyCache *auth.KeyCache,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		store:      st,
		publisher:  publisher,
		subscriber: subscriber,
		presence:   presence,
		keyCache:   keyCache,
		logger:     logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
