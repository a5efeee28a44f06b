package domain

import (
	"testing"
	"time"
)

func TestRefreshToken_NextRollingCapped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresAbsolute: now.Add(10 * 24 * time.Hour)}

	if got := tok.NextRolling(now, 7*24*time.Hour); !got.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("NextRolling = %v, want now+7d", got)
	}
	later := now.Add(5 * 24 * time.Hour)
	if got := tok.NextRolling(later, 7*24*time.Hour); !got.Equal(tok.ExpiresAbsolute) {
		t.Errorf("NextRolling past cap = %v, want %v", got, tok.ExpiresAbsolute)
	}
}

func TestRefreshToken_ExpiryBoundaries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresRolling: now, ExpiresAbsolute: now.Add(time.Hour)}
	if !tok.RollingExpired(now) {
		t.Error("rolling expiry is inclusive at the boundary")
	}
	if tok.AbsoluteExpired(now) {
		t.Error("absolute expiry not yet reached")
	}
	if !tok.AbsoluteExpired(now.Add(time.Hour)) {
		t.Error("absolute expiry is inclusive at the boundary")
	}
}

func TestUserSessionKey_Comparable(t *testing.T) {
	m := map[UserSessionKey]int{{UserID: "u", SessionID: "s"}: 1}
	if m[UserSessionKey{UserID: "u", SessionID: "s"}] != 1 {
		t.Error("equal keys must address the same entry")
	}
	tok := &RefreshToken{UserID: "u", SessionID: "s"}
	if tok.Key() != (UserSessionKey{UserID: "u", SessionID: "s"}) {
		t.Error("Key mismatch")
	}
}
