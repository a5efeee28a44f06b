package domain

import "time"

// TokenStatus is the lifecycle state of a refresh token row.
type TokenStatus string

const (
	StatusInactive TokenStatus = "inactive"
	StatusActive   TokenStatus = "active"
	StatusRevoked  TokenStatus = "revoked"
)

// Revoke reasons recorded on refresh token rows.
const (
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout-all"
	ReasonSuperseded      = "superseded"
	ReasonReuseDetected   = "reuse-detected"
	ReasonOwnerMismatch   = "owner-mismatch"
	ReasonSlidingExpired  = "sliding-expired"
	ReasonAbsoluteExpired = "absolute-expired"
	ReasonExpired         = "expired"
	ReasonAccountDisabled = "account-disabled"
)

// RefreshToken is one issued refresh token. The raw secret is never stored; only HashedToken.
type RefreshToken struct {
	TokenID         string
	UserID          string
	SessionID       string
	HashedToken     string
	AccessTokenID   string // jti of the access token issued alongside this secret
	ExpiresRolling  time.Time
	ExpiresAbsolute time.Time // fixed at login, never extended
	RevokedAt       *time.Time
	RevokeReason    string
	Status          TokenStatus
	DeviceID        string
	UserAgent       string
	Persistent      bool // remember-me: the refresh cookie outlives the browser session
	CreatedAt       time.Time
}

// Key returns the registry address of the row's session.
func (t *RefreshToken) Key() UserSessionKey {
	return UserSessionKey{UserID: t.UserID, SessionID: t.SessionID}
}

// Active reports whether the row is in the Active state.
func (t *RefreshToken) Active() bool { return t.Status == StatusActive }

// AbsoluteExpired reports whether the hard cap has passed at now.
func (t *RefreshToken) AbsoluteExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAbsolute)
}

// RollingExpired reports whether the sliding window has passed at now.
func (t *RefreshToken) RollingExpired(now time.Time) bool {
	return !now.Before(t.ExpiresRolling)
}

// NextRolling returns the rolling expiry after a rotation at now: now+sliding capped at ExpiresAbsolute.
func (t *RefreshToken) NextRolling(now time.Time, sliding time.Duration) time.Time {
	next := now.Add(sliding)
	if next.After(t.ExpiresAbsolute) {
		return t.ExpiresAbsolute
	}
	return next
}

// UserSessionKey addresses the live connections of one session. It owns no data.
type UserSessionKey struct {
	UserID    string
	SessionID string
}

func (k UserSessionKey) String() string { return k.UserID + "/" + k.SessionID }
