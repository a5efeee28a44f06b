package repository

import (
	"context"
	"time"

	"budget-planner/backend/internal/session/domain"
)

// RotateParams conditions a rotation on the row still holding ExpectedHash while Active.
type RotateParams struct {
	TokenID          string
	ExpectedHash     string
	NewHash          string
	NewAccessTokenID string
	NewRolling       time.Time
	Now              time.Time
}

// Repository persists refresh token rows. Implementations join the ambient unit of
// work carried in ctx; multi-statement methods are atomic only inside one.
type Repository interface {
	// Create revokes any Active row of t.SessionID (reason superseded) and inserts t as Active.
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetActiveBySession returns the Active row for sessionID, or nil if none.
	GetActiveBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error)
	// GetLatestBySession returns the newest row for sessionID in any status, or nil if none.
	GetLatestBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error)
	// Rotate swaps the secret and extends the rolling expiry. It returns false when the
	// row is no longer Active, no longer holds ExpectedHash, or its absolute expiry passed.
	Rotate(ctx context.Context, p RotateParams) (bool, error)
	// Revoke moves one Active row to Revoked. It returns false when the row was not Active.
	Revoke(ctx context.Context, tokenID, reason string, at time.Time) (bool, error)
	// RevokeAllForUser revokes every Active row of userID and returns the rows it changed.
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) ([]*domain.RefreshToken, error)
	// ListExpired returns up to limit Active rows whose rolling or absolute expiry is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.RefreshToken, error)
	// DeleteInert deletes rows revoked before cutoff or whose absolute expiry is before cutoff.
	DeleteInert(ctx context.Context, cutoff time.Time) (int64, error)
}
