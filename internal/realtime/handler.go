package realtime

import (
	"context"
	"net/http"

	"budget-planner/backend/internal/security"
	"budget-planner/backend/internal/server/middleware"

	"github.com/gorilla/websocket"
)

// Authenticator validates an access token, including the blacklist check.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*security.AccessClaims, error)
}

// Handler upgrades authenticated requests and hands the connection to the registry.
// Browsers cannot set headers on a WebSocket upgrade, so the token is also accepted
// from the access_token query parameter.
type Handler struct {
	registry *Registry
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewHandler returns the /ws handler. Origin checks are skipped because the
// connection is authorized by bearer token, never by cookie.
func NewHandler(registry *Registry, auth Authenticator) *Handler {
	return &Handler{
		registry: registry,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		middleware.Unauthorized(w)
		return
	}
	claims, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		middleware.Unauthorized(w)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.registry.log.Debug("ws_upgrade_failed", "error", err)
		return
	}
	h.registry.HandleConnection(r.Context(), conn, claims.UserID(), claims.SessionID)
}
