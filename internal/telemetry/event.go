package telemetry

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	EventLogin          EventType = "login"
	EventLoginFailed    EventType = "login_failed"
	EventRefresh        EventType = "refresh"
	EventRefreshReuse   EventType = "refresh_reuse"
	EventLogout         EventType = "logout"
	EventLogoutAll      EventType = "logout_all"
	EventSessionExpired EventType = "session_expired"
	EventForcedLogout   EventType = "forced_logout"
)

// SessionEvent is one session lifecycle event. It carries identifiers only, never secrets.
type SessionEvent struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
