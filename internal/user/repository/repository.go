package repository

import (
	"context"
	"errors"

	"budget-planner/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create for an email that is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users. Lookups return nil, nil when the user does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
