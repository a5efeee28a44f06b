package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/policy/engine"
	"budget-planner/backend/internal/security"
)

const bearerPrefix = "bearer "

// Authenticator validates an access token for a protected request. It returns an error
// matching security.ErrUnauthorized for a rejected token; any other error yields 500.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*security.AccessClaims, error)
}

// RequireAuth validates the Bearer access token and stores its claims in the request context.
// Requests without a valid, unrevoked token get 401.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				Unauthorized(w)
				return
			}
			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, security.ErrUnauthorized) {
					Unauthorized(w)
					return
				}
				logging.From(r.Context()).Error("authenticate_failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "internal")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePolicy denies with 403 unless the access policy allows action for the authenticated caller.
// Must run after RequireAuth. Evaluation errors deny.
func RequirePolicy(ev engine.Evaluator, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				Unauthorized(w)
				return
			}
			allowed, err := ev.Allow(r.Context(), engine.Request{Action: action, Subject: claims.UserID(), Roles: claims.Roles})
			if err != nil {
				logging.From(r.Context()).Warn("policy_eval_failed", "action", action, "error", err)
			}
			if err != nil || !allowed {
				WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns the token from "Authorization: Bearer <token>", or "" if missing or malformed.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
