package domain

import "time"

// BlacklistedAccessToken is an access token jti rejected before its natural expiry.
// The entry is purgeable once ExpiresAt has passed.
type BlacklistedAccessToken struct {
	JTI       string
	ExpiresAt time.Time
	CreatedAt time.Time
}
