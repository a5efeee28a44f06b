package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"budget-planner/backend/internal/db"
	"budget-planner/backend/internal/session/domain"
)

const tokenColumns = `token_id, user_id, session_id, hashed_token, access_token_id,
	expires_rolling, expires_absolute, revoked_at, revoke_reason, status,
	device_id, user_agent, persistent, created_at`

// PostgresRepository stores refresh tokens in the refresh_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository that uses the ambient transaction or db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) exec(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, r.db)
}

// Create persists t as the session's only Active row. t.TokenID must be set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	const op = "session.postgres.Create"
	ex := r.exec(ctx)
	now := t.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if _, err := ex.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2, revoke_reason = $3
		WHERE session_id = $1 AND status = 'active'`,
		t.SessionID, now, domain.ReasonSuperseded); err != nil {
		return fmt.Errorf("%s: supersede: %w", op, err)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO refresh_tokens (
			token_id, user_id, session_id, hashed_token, access_token_id,
			expires_rolling, expires_absolute, status, device_id, user_agent, persistent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $9, $10, $11)`,
		t.TokenID, t.UserID, t.SessionID, t.HashedToken, t.AccessTokenID,
		t.ExpiresRolling, t.ExpiresAbsolute, t.DeviceID, t.UserAgent, t.Persistent, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	t.Status = domain.StatusActive
	t.CreatedAt = now
	return nil
}

// GetActiveBySession returns the Active row for sessionID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetActiveBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error) {
	row := r.exec(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE session_id = $1 AND status = 'active'`, sessionID)
	return scanOne(row, "session.postgres.GetActiveBySession")
}

// GetLatestBySession returns the newest row for sessionID, or nil if not found.
func (r *PostgresRepository) GetLatestBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error) {
	row := r.exec(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE session_id = $1
		ORDER BY created_at DESC, token_id DESC LIMIT 1`, sessionID)
	return scanOne(row, "session.postgres.GetLatestBySession")
}

// Rotate performs the optimistic swap described on Repository.
func (r *PostgresRepository) Rotate(ctx context.Context, p RotateParams) (bool, error) {
	const op = "session.postgres.Rotate"
	res, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE refresh_tokens
		SET hashed_token = $3, access_token_id = $4, expires_rolling = $5
		WHERE token_id = $1 AND hashed_token = $2 AND status = 'active' AND expires_absolute > $6`,
		p.TokenID, p.ExpectedHash, p.NewHash, p.NewAccessTokenID, p.NewRolling, p.Now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected(res, op)
}

// Revoke marks the row revoked if it is still Active.
func (r *PostgresRepository) Revoke(ctx context.Context, tokenID, reason string, at time.Time) (bool, error) {
	const op = "session.postgres.Revoke"
	res, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2, revoke_reason = $3
		WHERE token_id = $1 AND status = 'active'`,
		tokenID, at, reason)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected(res, op)
}

// RevokeAllForUser revokes every Active row of userID.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) ([]*domain.RefreshToken, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2, revoke_reason = $3
		WHERE user_id = $1 AND status = 'active'
		RETURNING `+tokenColumns,
		userID, at, reason)
	if err != nil {
		return nil, fmt.Errorf("session.postgres.RevokeAllForUser: %w", err)
	}
	return scanAll(rows, "session.postgres.RevokeAllForUser")
}

// ListExpired returns Active rows past either expiry, oldest first.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.RefreshToken, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.exec(ctx).QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM refresh_tokens
		WHERE status = 'active' AND (expires_rolling <= $1 OR expires_absolute <= $1)
		ORDER BY expires_rolling, token_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("session.postgres.ListExpired: %w", err)
	}
	return scanAll(rows, "session.postgres.ListExpired")
}

// DeleteInert removes rows that can no longer be used and are older than cutoff.
func (r *PostgresRepository) DeleteInert(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "session.postgres.DeleteInert"
	res, err := r.exec(ctx).ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE (status = 'revoked' AND revoked_at < $1) OR expires_absolute < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*domain.RefreshToken, error) {
	var (
		t         domain.RefreshToken
		revokedAt sql.NullTime
		reason    sql.NullString
		status    string
	)
	err := s.Scan(&t.TokenID, &t.UserID, &t.SessionID, &t.HashedToken, &t.AccessTokenID,
		&t.ExpiresRolling, &t.ExpiresAbsolute, &revokedAt, &reason, &status,
		&t.DeviceID, &t.UserAgent, &t.Persistent, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.RevokedAt = nullTimeToPtr(revokedAt)
	t.RevokeReason = reason.String
	t.Status = domain.TokenStatus(status)
	return &t, nil
}

func scanOne(row *sql.Row, op string) (*domain.RefreshToken, error) {
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func scanAll(rows *sql.Rows, op string) ([]*domain.RefreshToken, error) {
	defer rows.Close()
	var out []*domain.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
