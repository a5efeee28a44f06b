package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"budget-planner/backend/internal/db"
)

// PostgresRepository stores blacklisted jtis in blacklisted_access_tokens.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a blacklist backed by db. Writes join the ambient unit of work.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	now := r.now().UTC()
	if jti == "" || !expiresAt.After(now) {
		return nil
	}
	_, err := db.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO blacklisted_access_tokens (jti, expires_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt, now)
	if err != nil {
		return fmt.Errorf("blacklist.postgres.Add: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := db.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blacklisted_access_tokens WHERE jti = $1 AND expires_at > $2)`,
		jti, r.now().UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist.postgres.IsBlacklisted: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`DELETE FROM blacklisted_access_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("blacklist.postgres.PurgeExpired: %w", err)
	}
	return res.RowsAffected()
}
