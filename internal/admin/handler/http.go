package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/server/middleware"
)

// maxMessageLen bounds a broadcast text frame.
const maxMessageLen = 1024

// Broadcaster delivers a text frame to every live connection.
type Broadcaster interface {
	Broadcast(text string) int
}

// Handler serves admin operations. Callers are expected to be policy-gated by the router.
type Handler struct {
	sockets Broadcaster
}

// NewHandler returns an admin Handler.
func NewHandler(sockets Broadcaster) *Handler {
	return &Handler{sockets: sockets}
}

type broadcastRequest struct {
	Message string `json:"message"`
}

type broadcastResponse struct {
	Delivered int `json:"delivered"`
}

// Broadcast pushes a message to every connected socket and reports how many accepted it.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var in broadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*maxMessageLen)).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" || len(msg) > maxMessageLen {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	// LOGOUT frames are reserved for the session core.
	if strings.HasPrefix(strings.ToUpper(msg), "LOGOUT") {
		middleware.WriteError(w, http.StatusBadRequest, "reserved_message")
		return
	}
	n := h.sockets.Broadcast(msg)
	userID, _ := middleware.GetUserID(r.Context())
	logging.From(r.Context()).Info("admin_broadcast", "user_id", userID, "delivered", n)
	middleware.WriteJSON(w, http.StatusOK, broadcastResponse{Delivered: n})
}
