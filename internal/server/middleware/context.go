package middleware

import (
	"context"

	"budget-planner/backend/internal/security"
)

type contextKey struct{ name string }

var claimsKey = contextKey{"claims"}

// WithClaims returns a context carrying the authenticated access token claims.
func WithClaims(ctx context.Context, c *security.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom returns the claims set by RequireAuth and true, or nil, false.
func ClaimsFrom(ctx context.Context) (*security.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*security.AccessClaims)
	return c, ok && c != nil
}

// GetUserID returns the authenticated user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return "", false
	}
	return c.UserID(), true
}

// GetSessionID returns the authenticated session id and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return "", false
	}
	return c.SessionID, true
}
