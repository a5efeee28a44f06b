package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"budget-planner/backend/internal/identity/service"
	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/security"
	"budget-planner/backend/internal/server/middleware"
)

const (
	// RefreshCookieName carries the raw refresh secret. It is never readable from scripts.
	RefreshCookieName = "RefreshToken"
	// SessionHeader correlates a refresh with its session when the access token is absent.
	SessionHeader = "X-Session-Id"
)

// AuthService is the orchestrator behind the auth endpoints.
type AuthService interface {
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	Refresh(ctx context.Context, in service.RefreshInput) (*service.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, claims *security.AccessClaims) error
}

// Handler serves /auth endpoints over HTTP.
type Handler struct {
	auth         AuthService
	cookieDomain string
}

// NewHandler returns a Handler. cookieDomain may be empty for a host-only cookie.
func NewHandler(auth AuthService, cookieDomain string) *Handler {
	return &Handler{auth: auth, cookieDomain: cookieDomain}
}

// Routes registers the auth endpoints on r. requireAuth guards /auth/me and /auth/logout-all.
func (h *Handler) Routes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.With(requireAuth).Post("/auth/logout-all", h.LogoutAll)
	r.With(requireAuth).Get("/auth/me", h.Me)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
	DeviceID   string `json:"deviceId"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	SessionID   string    `json:"sessionId"`
}

type meResponse struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges credentials for an access token and sets the refresh cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:      in.Email,
		Password:   in.Password,
		RememberMe: in.RememberMe,
		DeviceID:   in.DeviceID,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.writeAuthError(w, r, err, false)
		return
	}
	h.writeTokens(w, res)
}

// Refresh rotates the refresh cookie and returns a new access token. Any failure clears the cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var secret string
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		secret = c.Value
	}
	res, err := h.auth.Refresh(r.Context(), service.RefreshInput{
		RefreshToken: secret,
		AccessToken:  middleware.BearerToken(r),
		SessionID:    r.Header.Get(SessionHeader),
	})
	if err != nil {
		h.writeAuthError(w, r, err, true)
		return
	}
	h.writeTokens(w, res)
}

// Logout ends the caller's session. It always answers 204 and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		logging.From(r.Context()).Error("logout_failed", "error", err)
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll ends every session of the authenticated caller. Once authenticated it answers 204
// and clears the cookie even when revocation fails.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		middleware.Unauthorized(w)
		return
	}
	if err := h.auth.LogoutAll(r.Context(), claims); err != nil {
		logging.From(r.Context()).Error("logout_all_failed", "error", err)
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the claims of the authenticated access token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		middleware.Unauthorized(w)
		return
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		UserID:    claims.UserID(),
		SessionID: claims.SessionID,
		Email:     claims.Email,
		Roles:     roles,
		ExpiresAt: claims.Expiry(),
	})
}

func (h *Handler) writeTokens(w http.ResponseWriter, res *service.AuthResult) {
	cookie := h.baseCookie(res.RefreshToken)
	if res.Persistent {
		cookie.Expires = res.RefreshExpiresAt
	}
	http.SetCookie(w, cookie)
	w.Header().Set("Cache-Control", "no-store")
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
		SessionID:   res.SessionID,
	})
}

// writeAuthError maps auth sentinels to a generic 401 and everything else to 500.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error, clear bool) {
	if isAuthFailure(err) {
		if clear {
			h.clearCookie(w)
		}
		middleware.Unauthorized(w)
		return
	}
	logging.From(r.Context()).Error("auth_request_failed", "path", r.URL.Path, "error", err)
	middleware.WriteError(w, http.StatusInternalServerError, "internal")
}

func isAuthFailure(err error) bool {
	return errors.Is(err, service.ErrInvalidCredentials) ||
		errors.Is(err, service.ErrInvalidRefresh) ||
		errors.Is(err, service.ErrSessionExpired) ||
		errors.Is(err, service.ErrRefreshTokenReuse) ||
		errors.Is(err, service.ErrUnauthorized)
}

func (h *Handler) baseCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.cookieDomain,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	c := h.baseCookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}
