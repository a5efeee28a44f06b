package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// MinKeyBytes is the minimum HS256 secret length accepted by the key ring.
const MinKeyBytes = 32

var (
	// ErrInvalidKey is returned when key material is missing, undecodable, or too short.
	ErrInvalidKey = errors.New("invalid key")
	// ErrUnknownKey is returned when a kid is not present in the key ring.
	ErrUnknownKey = errors.New("unknown key id")
)

// SigningKey is one named HMAC secret.
type SigningKey struct {
	KID    string
	Secret []byte
	Active bool
}

// KeyRing is the immutable set of signing keys known to the validator plus the
// active key used for new tokens. It is safe for concurrent use without locking.
type KeyRing struct {
	active string
	keys   map[string][]byte
}

// NewKeyRing validates keys and returns a KeyRing that signs with activeKID.
// Secret slices are copied so later mutation by the caller has no effect.
func NewKeyRing(activeKID string, keys []SigningKey) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no signing keys configured", ErrInvalidKey)
	}
	ring := &KeyRing{active: activeKID, keys: make(map[string][]byte, len(keys))}
	for _, k := range keys {
		if strings.TrimSpace(k.KID) == "" {
			return nil, fmt.Errorf("%w: empty kid", ErrInvalidKey)
		}
		if _, dup := ring.keys[k.KID]; dup {
			return nil, fmt.Errorf("%w: duplicate kid %q", ErrInvalidKey, k.KID)
		}
		if len(k.Secret) < MinKeyBytes {
			return nil, fmt.Errorf("%w: key %q shorter than %d bytes", ErrInvalidKey, k.KID, MinKeyBytes)
		}
		ring.keys[k.KID] = append([]byte(nil), k.Secret...)
	}
	if _, ok := ring.keys[activeKID]; !ok {
		return nil, fmt.Errorf("%w: active kid %q", ErrUnknownKey, activeKID)
	}
	return ring, nil
}

// ActiveKID returns the kid used to sign new tokens.
func (r *KeyRing) ActiveKID() string {
	return r.active
}

// Lookup returns the secret for kid.
func (r *KeyRing) Lookup(kid string) ([]byte, error) {
	secret, ok := r.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return secret, nil
}

// KIDs returns the known key ids in sorted order.
func (r *KeyRing) KIDs() []string {
	out := make([]string, 0, len(r.keys))
	for kid := range r.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// SecretGetter is the subset of the Secrets Manager client used to resolve awssm: sources.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KeySource resolves key material from a source string:
//
//	base64:<data>     inline base64
//	env:<VAR>         base64 held in an environment variable
//	file:<path>       file holding base64 or raw bytes
//	awssm:<secret-id> AWS Secrets Manager secret string holding base64
//
// Anything else is treated as inline base64.
type KeySource struct {
	// Secrets is used for awssm: sources. When nil, a client is built from the
	// default AWS config on first use.
	Secrets SecretGetter
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Resolve returns the raw key bytes for source.
func (s *KeySource) Resolve(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrInvalidKey
	}
	scheme, rest, ok := strings.Cut(source, ":")
	if !ok {
		return decodeKey(source)
	}
	switch scheme {
	case "base64":
		return decodeKey(rest)
	case "env":
		getenv := s.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		v := getenv(rest)
		if v == "" {
			return nil, fmt.Errorf("%w: env %s is empty", ErrInvalidKey, rest)
		}
		return decodeKey(v)
	case "file":
		b, err := os.ReadFile(rest)
		if err != nil {
			return nil, err
		}
		if decoded, err := decodeKey(string(b)); err == nil {
			return decoded, nil
		}
		return b, nil
	case "awssm":
		return s.fromSecretsManager(ctx, rest)
	default:
		return decodeKey(source)
	}
}

func (s *KeySource) fromSecretsManager(ctx context.Context, secretID string) ([]byte, error) {
	if s.Secrets == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		s.Secrets = secretsmanager.NewFromConfig(cfg)
	}
	out, err := s.Secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch secret %s: %w", secretID, err)
	}
	switch {
	case out.SecretString != nil:
		return decodeKey(*out.SecretString)
	case len(out.SecretBinary) > 0:
		return out.SecretBinary, nil
	default:
		return nil, fmt.Errorf("%w: secret %s has no payload", ErrInvalidKey, secretID)
	}
}

// LoadKeyRing resolves every kid → source pair and builds the KeyRing.
func LoadKeyRing(ctx context.Context, src *KeySource, activeKID string, specs map[string]string) (*KeyRing, error) {
	if src == nil {
		src = &KeySource{}
	}
	kids := make([]string, 0, len(specs))
	for kid := range specs {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	keys := make([]SigningKey, 0, len(kids))
	for _, kid := range kids {
		secret, err := src.Resolve(ctx, specs[kid])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		keys = append(keys, SigningKey{KID: kid, Secret: secret, Active: kid == activeKID})
	}
	return NewKeyRing(activeKID, keys)
}

// EphemeralKID names the key generated by NewEphemeralKeyRing.
const EphemeralKID = "ephemeral"

// NewEphemeralKeyRing returns a single random key held only in memory. Tokens signed with it
// stop validating when the process exits. Development only.
func NewEphemeralKeyRing() (*KeyRing, error) {
	secret := make([]byte, MinKeyBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return NewKeyRing(EphemeralKID, []SigningKey{{KID: EphemeralKID, Secret: secret, Active: true}})
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
}
