package repository

import (
	"context"
	"time"
)

// Repository records access token ids that must be rejected before they expire.
type Repository interface {
	// Add blacklists jti until expiresAt. Adding an expired or already present jti is a no-op.
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	// IsBlacklisted reports whether jti is currently blacklisted.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	// PurgeExpired removes entries whose expiry is at or before now and returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
