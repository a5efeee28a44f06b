package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthorized is returned when an access token may not be used for a request.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationStatus is the outcome of validating an access token.
type ValidationStatus int

const (
	// TokenInvalid covers malformed tokens, unknown kids, bad signatures and wrong iss/aud.
	TokenInvalid ValidationStatus = iota
	// TokenExpired means the token is well formed and signed by a known key but past exp.
	TokenExpired
	// TokenValid means every check passed.
	TokenValid
)

func (s ValidationStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sessionId"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	DeviceID  string   `json:"deviceId,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string { return c.Subject }

// JTI returns the token id claim.
func (c *AccessClaims) JTI() string { return c.ID }

// Expiry returns the exp claim, or the zero time when absent.
func (c *AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ValidationResult is returned by ValidateToken. Claims is nil when Status is TokenInvalid.
type ValidationResult struct {
	Status ValidationStatus
	Claims *AccessClaims
}

// Valid reports whether the token may be used.
func (r ValidationResult) Valid() bool { return r.Status == TokenValid }

// IssuedToken is a freshly minted access token.
type IssuedToken struct {
	Token     string
	JTI       string
	SessionID string
	ExpiresAt time.Time
}

// TokenIssuer mints and validates HS256 access tokens against a KeyRing.
type TokenIssuer struct {
	ring      *KeyRing
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer returns a TokenIssuer that signs with ring's active key.
// issuer and audience are set on claims and required on validation.
func NewTokenIssuer(ring *KeyRing, issuer, audience string, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		ring:      ring,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// AccessTTL returns the lifetime of minted access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// CreateAccessToken mints an access token for the given user and session.
// An empty sessionID starts a new session with a random UUID.
func (i *TokenIssuer) CreateAccessToken(userID, email string, roles []string, deviceID, userAgent, sessionID string) (IssuedToken, error) {
	if userID == "" {
		return IssuedToken{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		Email:     email,
		Roles:     roles,
		DeviceID:  deviceID,
		UserAgent: userAgent,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	kid := i.ring.ActiveKID()
	t.Header["kid"] = kid
	secret, err := i.ring.Lookup(kid)
	if err != nil {
		return IssuedToken{}, err
	}
	signed, err := t.SignedString(secret)
	if err != nil {
		return IssuedToken{}, err
	}
	// jwt NumericDate truncates to seconds; report the expiry the token actually carries.
	return IssuedToken{Token: signed, JTI: jti, SessionID: sessionID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ValidateToken checks signature, kid, algorithm, issuer, audience, required claims and expiry.
// allowExpired skips only the expiry check and must be used solely by the refresh flow;
// authorization paths always pass false.
func (i *TokenIssuer) ValidateToken(tokenString string, allowExpired bool) ValidationResult {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, i.keyFunc)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		// Signature already verified; confirm the remaining claims as of just before expiry.
		exp := claims.Expiry()
		v := jwt.NewValidator(
			jwt.WithIssuer(i.issuer),
			jwt.WithAudience(i.audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(func() time.Time { return exp.Add(-time.Second) }),
		)
		if v.Validate(claims) != nil || !hasRequired(claims) {
			return ValidationResult{Status: TokenInvalid}
		}
		if allowExpired {
			return ValidationResult{Status: TokenValid, Claims: claims}
		}
		return ValidationResult{Status: TokenExpired, Claims: claims}
	default:
		return ValidationResult{Status: TokenInvalid}
	}
	if !hasRequired(claims) {
		return ValidationResult{Status: TokenInvalid}
	}
	return ValidationResult{Status: TokenValid, Claims: claims}
}

func (i *TokenIssuer) keyFunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrUnknownKey
	}
	return i.ring.Lookup(kid)
}

func hasRequired(c *AccessClaims) bool {
	return c.ID != "" && c.Subject != "" && c.SessionID != "" && c.ExpiresAt != nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
