package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the account the session core authenticates. The account module owns it.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Roles        []string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// RoleUser is granted to every account without explicit roles.
const RoleUser = "user"

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{RoleUser}
	}
	return nil
}

// CanLogin reports whether the account may start new sessions.
func (u *User) CanLogin() bool { return u.Status == UserStatusActive }

// NormalizeEmail lower-cases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JoinRoles encodes roles for the users.roles column.
func JoinRoles(roles []string) string { return strings.Join(roles, ",") }

// SplitRoles decodes the users.roles column, dropping blanks.
func SplitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
