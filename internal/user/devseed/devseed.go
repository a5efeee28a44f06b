// Package devseed creates the development accounts used for local testing.
package devseed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budget-planner/backend/internal/user/domain"
	"budget-planner/backend/internal/user/repository"
)

const (
	DevUserEmail = "dev@example.com"
	AdminEmail   = "admin@example.com"
	DevPassword  = "password123"

	devUserID = "dev-user-001"
	adminID   = "dev-admin-001"
)

// Hasher hashes the shared development password.
type Hasher interface {
	Hash(password []byte) (string, error)
}

// Apply creates the dev user and the dev admin. Accounts that already exist are skipped,
// so Apply is idempotent. It returns how many accounts were created.
func Apply(ctx context.Context, users repository.Repository, hasher Hasher, now time.Time) (int, error) {
	hash, err := hasher.Hash([]byte(DevPassword))
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	accounts := []*domain.User{
		{ID: devUserID, Email: DevUserEmail, Name: "Dev User", Roles: []string{domain.RoleUser}},
		{ID: adminID, Email: AdminEmail, Name: "Dev Admin", Roles: []string{domain.RoleUser, "admin"}},
	}
	created := 0
	for _, u := range accounts {
		u.PasswordHash = hash
		u.Status = domain.UserStatusActive
		u.CreatedAt = now
		u.UpdatedAt = now
		err := users.Create(ctx, u)
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			continue
		case err != nil:
			return created, fmt.Errorf("create %s: %w", u.Email, err)
		}
		created++
	}
	return created, nil
}
