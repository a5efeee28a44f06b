package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"budget-planner/backend/internal/db"
	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/metrics"
	"budget-planner/backend/internal/security"
	sessiondomain "budget-planner/backend/internal/session/domain"
	"budget-planner/backend/internal/session/repository"
	"budget-planner/backend/internal/telemetry"
	userdomain "budget-planner/backend/internal/user/domain"
)

// Sentinel errors for the auth service; the HTTP handler maps all of them to a generic 401.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrSessionExpired     = errors.New("session expired")
	ErrRefreshTokenReuse  = errors.New("refresh token reuse detected; session revoked")
	ErrUnauthorized       = security.ErrUnauthorized
)

// errRotationConflict aborts the refresh transaction when another refresh rotated the row first.
var errRotationConflict = errors.New("refresh token rotated concurrently")

// Logout reasons pushed over WebSocket.
const (
	PushReasonReuse   = "reuse-detected"
	PushReasonExpired = "session-expired"
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Blacklist records access token jtis that must be rejected before their natural expiry.
type Blacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Compare(hash string, password []byte) error
	// CompareDummy burns the same time as Compare for unknown accounts.
	CompareDummy(password []byte)
}

// Notifier pushes logout messages to live WebSocket connections.
type Notifier interface {
	ForceLogout(userID, reason string) int
	ForceLogoutSession(key sessiondomain.UserSessionKey, reason string) int
}

// LoginInput is the login form plus request metadata.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	DeviceID   string
	UserAgent  string
}

// RefreshInput carries the refresh cookie, the (possibly expired) access token and the
// X-Session-Id header. Either AccessToken or SessionID must identify the session.
type RefreshInput struct {
	RefreshToken string
	AccessToken  string
	SessionID    string
}

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time // absolute cap of the session
	Persistent       bool      // remember-me; the refresh cookie gets an Expires attribute
	SessionID        string
	UserID           string
}

// AuthService implements login, refresh with rotation, logout, and access token authentication.
type AuthService struct {
	users     UserRepo
	tokens    repository.Repository
	blacklist Blacklist
	issuer    *security.TokenIssuer
	passwords PasswordVerifier
	uow       db.Factory
	notifier  Notifier
	sliding   time.Duration
	absolute  time.Duration

	emitter telemetry.EventEmitter
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. sliding is the refresh
// idle window and absolute the hard session cap.
func NewAuthService(
	users UserRepo,
	tokens repository.Repository,
	blacklist Blacklist,
	issuer *security.TokenIssuer,
	passwords PasswordVerifier,
	uow db.Factory,
	notifier Notifier,
	sliding, absolute time.Duration,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		blacklist: blacklist,
		issuer:    issuer,
		passwords: passwords,
		uow:       uow,
		notifier:  notifier,
		sliding:   sliding,
		absolute:  absolute,
		log:       logging.Discard(),
		now:       time.Now,
	}
}

// WithTelemetry sets the event emitter and Prometheus metrics. Both may be nil.
func (s *AuthService) WithTelemetry(emitter telemetry.EventEmitter, m *metrics.Metrics) *AuthService {
	s.emitter = emitter
	s.metrics = m
	return s
}

// WithLogger sets the fallback logger used when the request context carries none.
func (s *AuthService) WithLogger(l *slog.Logger) *AuthService {
	if l != nil {
		s.log = l
	}
	return s
}

// WithClock overrides the clock. The TokenIssuer keeps its own; tests set both.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) logger(ctx context.Context) *slog.Logger {
	if l := logging.From(ctx); l != slog.Default() {
		return l
	}
	return s.log
}

func (s *AuthService) emit(ctx context.Context, typ telemetry.EventType, userID, sessionID, reason string) {
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.SessionEvent{
		Type:       typ,
		UserID:     userID,
		SessionID:  sessionID,
		Reason:     reason,
		Source:     "auth",
		OccurredAt: s.now().UTC(),
	})
}

// Login verifies the password and starts a new session: one access token plus one Active
// refresh row. Every rejection is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := userdomain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.metrics.Auth("login", "rejected")
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if user == nil || !user.CanLogin() {
		s.passwords.CompareDummy([]byte(in.Password))
		s.metrics.Auth("login", "rejected")
		s.emit(ctx, telemetry.EventLoginFailed, "", "", "unknown-or-disabled")
		return nil, ErrInvalidCredentials
	}
	if err := s.passwords.Compare(user.PasswordHash, []byte(in.Password)); err != nil {
		s.metrics.Auth("login", "rejected")
		s.emit(ctx, telemetry.EventLoginFailed, user.ID, "", "bad-password")
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	access, err := s.issuer.CreateAccessToken(user.ID, user.Email, user.Roles, in.DeviceID, in.UserAgent, "")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	row := &sessiondomain.RefreshToken{
		TokenID:         uuid.NewString(),
		UserID:          user.ID,
		SessionID:       access.SessionID,
		HashedToken:     security.HashRefreshToken(secret),
		AccessTokenID:   access.JTI,
		ExpiresAbsolute: now.Add(s.absolute),
		DeviceID:        in.DeviceID,
		UserAgent:       in.UserAgent,
		Persistent:      in.RememberMe,
		CreatedAt:       now,
	}
	row.ExpiresRolling = row.NextRolling(now, s.sliding)

	if err := db.Run(ctx, s.uow, func(ctx context.Context) error {
		return s.tokens.Create(ctx, row)
	}); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.metrics.Auth("login", "ok")
	s.emit(ctx, telemetry.EventLogin, user.ID, row.SessionID, "")
	s.logger(ctx).Info("login", "user_id", user.ID, "session_id", row.SessionID)
	return &AuthResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     secret,
		RefreshExpiresAt: row.ExpiresAbsolute,
		Persistent:       row.Persistent,
		SessionID:        row.SessionID,
		UserID:           user.ID,
	}, nil
}

// refreshOutcome is what one refresh transaction decided. Pushes run only after commit.
type refreshOutcome struct {
	result        *AuthResult
	failure       error
	logoutUser    string
	logoutSession *sessiondomain.UserSessionKey
	pushReason    string
	reason        string
}

// Refresh exchanges a refresh secret for a new access token and a rotated secret. The checks
// run in a fixed order inside one unit of work; failures that revoke rows still commit.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (*AuthResult, error) {
	if in.RefreshToken == "" {
		s.metrics.Auth("refresh", "rejected")
		return nil, ErrInvalidRefresh
	}
	subject, sessionID, jti, ok := s.refreshIdentity(in)
	if !ok {
		s.metrics.Auth("refresh", "rejected")
		return nil, ErrInvalidRefresh
	}

	now := s.now().UTC()
	var out refreshOutcome
	err := db.Run(ctx, s.uow, func(ctx context.Context) error {
		var err error
		out, err = s.refreshTx(ctx, in.RefreshToken, subject, sessionID, jti, now)
		return err
	})
	if err != nil {
		if errors.Is(err, errRotationConflict) || db.IsSerializationFailure(err) {
			return nil, s.reactToConcurrentRefresh(ctx, sessionID, now)
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	if out.logoutUser != "" {
		s.notifier.ForceLogout(out.logoutUser, out.pushReason)
	}
	if out.logoutSession != nil {
		s.notifier.ForceLogoutSession(*out.logoutSession, out.pushReason)
	}
	if out.failure != nil {
		userID := out.logoutUser
		if userID == "" {
			userID = subject
		}
		switch {
		case errors.Is(out.failure, ErrRefreshTokenReuse):
			s.metrics.Reuse()
			s.metrics.Auth("refresh", "reuse")
			s.emit(ctx, telemetry.EventRefreshReuse, userID, sessionID, out.reason)
			s.logger(ctx).Warn("refresh_reuse_detected", "session_id", sessionID, "reason", out.reason)
		case errors.Is(out.failure, ErrSessionExpired):
			s.metrics.Auth("refresh", "expired")
			s.emit(ctx, telemetry.EventSessionExpired, userID, sessionID, out.reason)
		default:
			s.metrics.Auth("refresh", "rejected")
		}
		return nil, out.failure
	}

	s.metrics.Auth("refresh", "ok")
	s.metrics.Blacklisted(1)
	s.emit(ctx, telemetry.EventRefresh, out.result.UserID, sessionID, "")
	return out.result, nil
}

// refreshIdentity resolves the subject, session and jti from the access token and header.
// An access token that fails validation for any reason other than expiry is rejected.
func (s *AuthService) refreshIdentity(in RefreshInput) (subject, sessionID, jti string, ok bool) {
	sessionID = in.SessionID
	if in.AccessToken == "" {
		return "", sessionID, "", sessionID != ""
	}
	res := s.issuer.ValidateToken(in.AccessToken, true)
	if !res.Valid() {
		return "", "", "", false
	}
	if sessionID == "" {
		sessionID = res.Claims.SessionID
	} else if sessionID != res.Claims.SessionID {
		return "", "", "", false
	}
	return res.Claims.UserID(), sessionID, res.Claims.JTI(), true
}

func (s *AuthService) refreshTx(ctx context.Context, secret, subject, sessionID, jti string, now time.Time) (refreshOutcome, error) {
	// 0. A blacklisted access token was superseded or logged out; presenting it is replay.
	if jti != "" {
		blocked, err := s.blacklist.IsBlacklisted(ctx, jti)
		if err != nil {
			return refreshOutcome{}, err
		}
		if blocked {
			return s.revokeUserForReuse(ctx, subject, "blacklisted-access-token", now)
		}
	}

	row, err := s.tokens.GetActiveBySession(ctx, sessionID)
	if err != nil {
		return refreshOutcome{}, err
	}

	// 1. No Active row: a revoked session being replayed escalates to every session of the user.
	if row == nil {
		return s.escalateRevokedSession(ctx, sessionID, now)
	}
	key := row.Key()

	// 2. The access token belongs to someone else.
	if subject != "" && row.UserID != subject {
		if _, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonOwnerMismatch, now); err != nil {
			return refreshOutcome{}, err
		}
		return refreshOutcome{failure: ErrInvalidRefresh, logoutSession: &key, reason: sessiondomain.ReasonOwnerMismatch}, nil
	}

	// 3. Hard cap reached: never rotatable, force the client out.
	if row.AbsoluteExpired(now) {
		if _, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonAbsoluteExpired, now); err != nil {
			return refreshOutcome{}, err
		}
		return refreshOutcome{failure: ErrSessionExpired, logoutSession: &key, pushReason: PushReasonExpired, reason: sessiondomain.ReasonAbsoluteExpired}, nil
	}

	// 4. Idle too long: the ordinary "log in again" case.
	if row.RollingExpired(now) {
		if _, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonSlidingExpired, now); err != nil {
			return refreshOutcome{}, err
		}
		return refreshOutcome{failure: ErrSessionExpired, reason: sessiondomain.ReasonSlidingExpired}, nil
	}

	// 5. Stale or forged secret for a live session: treat as theft.
	if !security.RefreshTokenHashEqual(secret, row.HashedToken) {
		if _, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonReuseDetected, now); err != nil {
			return refreshOutcome{}, err
		}
		if err := s.blacklistJTI(ctx, row.AccessTokenID, now); err != nil {
			return refreshOutcome{}, err
		}
		return refreshOutcome{failure: ErrRefreshTokenReuse, logoutSession: &key, pushReason: PushReasonReuse, reason: sessiondomain.ReasonReuseDetected}, nil
	}

	// 6. Rotate.
	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		return refreshOutcome{}, err
	}
	if user == nil || !user.CanLogin() {
		if _, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonAccountDisabled, now); err != nil {
			return refreshOutcome{}, err
		}
		return refreshOutcome{failure: ErrInvalidRefresh, logoutSession: &key, reason: sessiondomain.ReasonAccountDisabled}, nil
	}
	access, err := s.issuer.CreateAccessToken(user.ID, user.Email, user.Roles, row.DeviceID, row.UserAgent, row.SessionID)
	if err != nil {
		return refreshOutcome{}, err
	}
	newSecret, err := security.NewRefreshSecret()
	if err != nil {
		return refreshOutcome{}, err
	}
	rotated, err := s.tokens.Rotate(ctx, repository.RotateParams{
		TokenID:          row.TokenID,
		ExpectedHash:     row.HashedToken,
		NewHash:          security.HashRefreshToken(newSecret),
		NewAccessTokenID: access.JTI,
		NewRolling:       row.NextRolling(now, s.sliding),
		Now:              now,
	})
	if err != nil {
		return refreshOutcome{}, err
	}
	if !rotated {
		return refreshOutcome{}, errRotationConflict
	}
	if err := s.blacklistJTI(ctx, row.AccessTokenID, now); err != nil {
		return refreshOutcome{}, err
	}
	return refreshOutcome{result: &AuthResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     newSecret,
		RefreshExpiresAt: row.ExpiresAbsolute,
		Persistent:       row.Persistent,
		SessionID:        row.SessionID,
		UserID:           user.ID,
	}}, nil
}

func (s *AuthService) escalateRevokedSession(ctx context.Context, sessionID string, now time.Time) (refreshOutcome, error) {
	latest, err := s.tokens.GetLatestBySession(ctx, sessionID)
	if err != nil {
		return refreshOutcome{}, err
	}
	if latest == nil || latest.Status != sessiondomain.StatusRevoked {
		return refreshOutcome{failure: ErrInvalidRefresh}, nil
	}
	switch latest.RevokeReason {
	case sessiondomain.ReasonExpired, sessiondomain.ReasonSlidingExpired, sessiondomain.ReasonAbsoluteExpired:
		// Expiry is not evidence of theft.
		return refreshOutcome{failure: ErrSessionExpired, reason: latest.RevokeReason}, nil
	}
	return s.revokeUserForReuse(ctx, latest.UserID, "revoked-session-replayed", now)
}

// revokeUserForReuse revokes every session of userID, blacklists their outstanding access
// tokens, and asks for a logout push to all of the user's sockets.
func (s *AuthService) revokeUserForReuse(ctx context.Context, userID, reason string, now time.Time) (refreshOutcome, error) {
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, sessiondomain.ReasonReuseDetected, now)
	if err != nil {
		return refreshOutcome{}, err
	}
	for _, r := range revoked {
		if err := s.blacklistJTI(ctx, r.AccessTokenID, now); err != nil {
			return refreshOutcome{}, err
		}
	}
	return refreshOutcome{
		failure:    ErrRefreshTokenReuse,
		logoutUser: userID,
		pushReason: PushReasonReuse,
		reason:     reason,
	}, nil
}

// reactToConcurrentRefresh runs after a lost rotation race: the winner's row is revoked too,
// since two holders of the same secret means one of them is not the user.
func (s *AuthService) reactToConcurrentRefresh(ctx context.Context, sessionID string, now time.Time) error {
	var victim *sessiondomain.RefreshToken
	err := db.Run(ctx, s.uow, func(ctx context.Context) error {
		row, err := s.tokens.GetActiveBySession(ctx, sessionID)
		if err != nil || row == nil {
			return err
		}
		ok, err := s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonReuseDetected, now)
		if err != nil || !ok {
			return err
		}
		victim = row
		return s.blacklistJTI(ctx, row.AccessTokenID, now)
	})
	if err != nil {
		return fmt.Errorf("refresh: revoke after concurrent reuse: %w", err)
	}
	s.metrics.Reuse()
	s.metrics.Auth("refresh", "reuse")
	if victim != nil {
		s.notifier.ForceLogoutSession(victim.Key(), PushReasonReuse)
		s.emit(ctx, telemetry.EventRefreshReuse, victim.UserID, sessionID, "concurrent-rotation")
	}
	s.logger(ctx).Warn("refresh_reuse_detected", "session_id", sessionID, "reason", "concurrent-rotation")
	return ErrRefreshTokenReuse
}

// blacklistJTI blocks an outstanding access token for at most one access TTL, which bounds
// the remaining lifetime of any token minted for the row.
func (s *AuthService) blacklistJTI(ctx context.Context, jti string, now time.Time) error {
	if jti == "" {
		return nil
	}
	return s.blacklist.Add(ctx, jti, now.Add(s.issuer.AccessTTL()))
}

// Logout ends the session the access token belongs to: revoke its refresh row, blacklist the
// token, and push LOGOUT to its sockets. Expired tokens are accepted so stale tabs can still
// log out, but only the token most recently issued for the session counts: a blacklisted or
// rotated-out token is a no-op. Blacklisting and pushes are best-effort.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	res := s.issuer.ValidateToken(accessToken, true)
	if !res.Valid() {
		return nil
	}
	claims := res.Claims
	blocked, err := s.blacklist.IsBlacklisted(ctx, claims.JTI())
	if err != nil {
		s.metrics.Auth("logout", "error")
		return fmt.Errorf("logout: %w", err)
	}
	if blocked {
		s.metrics.Auth("logout", "rejected")
		return nil
	}
	now := s.now().UTC()
	key := sessiondomain.UserSessionKey{UserID: claims.UserID(), SessionID: claims.SessionID}

	var revoked bool
	err = db.Run(ctx, s.uow, func(ctx context.Context) error {
		row, err := s.tokens.GetActiveBySession(ctx, claims.SessionID)
		if err != nil || row == nil {
			return err
		}
		if row.UserID != claims.UserID() || row.AccessTokenID != claims.JTI() {
			return nil
		}
		revoked, err = s.tokens.Revoke(ctx, row.TokenID, sessiondomain.ReasonLogout, now)
		return err
	})
	if err != nil {
		s.metrics.Auth("logout", "error")
		return fmt.Errorf("logout: %w", err)
	}
	s.blacklistBestEffort(ctx, claims.JTI(), claims.Expiry())
	if !revoked {
		s.metrics.Auth("logout", "rejected")
		return nil
	}
	s.notifier.ForceLogoutSession(key, "")
	s.metrics.Auth("logout", "ok")
	s.emit(ctx, telemetry.EventLogout, key.UserID, key.SessionID, "")
	return nil
}

// LogoutAll revokes every Active refresh row of the caller, blacklists the current token and
// the last access token of every revoked session, and pushes LOGOUT everywhere. claims must
// come from Authenticate: an expired, rotated-out or blacklisted token never gets here.
func (s *AuthService) LogoutAll(ctx context.Context, claims *security.AccessClaims) error {
	if claims == nil || claims.UserID() == "" {
		return ErrUnauthorized
	}
	now := s.now().UTC()

	var revoked []*sessiondomain.RefreshToken
	err := db.Run(ctx, s.uow, func(ctx context.Context) error {
		var err error
		revoked, err = s.tokens.RevokeAllForUser(ctx, claims.UserID(), sessiondomain.ReasonLogoutAll, now)
		return err
	})
	s.blacklistBestEffort(ctx, claims.JTI(), claims.Expiry())
	for _, row := range revoked {
		if row.AccessTokenID != claims.JTI() {
			s.blacklistBestEffort(ctx, row.AccessTokenID, now.Add(s.issuer.AccessTTL()))
		}
	}
	s.notifier.ForceLogout(claims.UserID(), "")
	s.metrics.Auth("logout_all", resultLabel(err))
	s.emit(ctx, telemetry.EventLogoutAll, claims.UserID(), claims.SessionID, "")
	s.logger(ctx).Info("logout_all", "user_id", claims.UserID(), "sessions", len(revoked))
	if err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	return nil
}

func (s *AuthService) blacklistBestEffort(ctx context.Context, jti string, until time.Time) {
	if err := s.blacklist.Add(ctx, jti, until); err != nil {
		s.logger(ctx).Warn("blacklist_add_failed", "jti", jti, "error", err)
		return
	}
	s.metrics.Blacklisted(1)
}

// Authenticate validates an access token for a normal request: it must be unexpired and
// not blacklisted. Blacklist lookup failures are returned as errors, not as a rejection.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*security.AccessClaims, error) {
	res := s.issuer.ValidateToken(accessToken, false)
	if !res.Valid() {
		return nil, ErrUnauthorized
	}
	blocked, err := s.blacklist.IsBlacklisted(ctx, res.Claims.JTI())
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if blocked {
		return nil, ErrUnauthorized
	}
	return res.Claims, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
