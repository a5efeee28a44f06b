// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Blacklist backends accepted in BLACKLIST_BACKEND.
const (
	BlacklistPostgres = "postgres"
	BlacklistRedis    = "redis"
	BlacklistMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP/WebSocket server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTIssuer is the iss claim set on and required from access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim set on and required from access tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTActiveKID names the key in JWTKeys used to sign new tokens.
	JWTActiveKID string `mapstructure:"JWT_ACTIVE_KID"`
	// JWTKeys is a comma-separated list of kid=source pairs. A source is base64:<data>,
	// env:<VAR>, file:<path>, awssm:<secret-id>, or bare base64.
	JWTKeys string `mapstructure:"JWT_KEYS"`

	// AccessTokenMinutes is the access token lifetime in minutes.
	AccessTokenMinutes int `mapstructure:"ACCESS_TOKEN_MINUTES"`
	// RefreshSlidingDays is the sliding window added on every refresh rotation.
	RefreshSlidingDays int `mapstructure:"REFRESH_SLIDING_DAYS"`
	// RefreshAbsoluteDays is the hard cap on a session's lifetime, fixed at login.
	RefreshAbsoluteDays int `mapstructure:"REFRESH_ABSOLUTE_DAYS"`

	// ScannerInterval is how often the expired-session scanner runs (e.g. "10s").
	ScannerInterval string `mapstructure:"SCANNER_INTERVAL"`
	// WSHealthCheckInterval is how often every socket is pinged.
	WSHealthCheckInterval string `mapstructure:"WS_HEALTHCHECK_INTERVAL"`
	// WSPongTimeout bounds how long a socket may take to answer a ping before it is pruned.
	WSPongTimeout string `mapstructure:"WS_PONG_TIMEOUT"`
	// RetentionInterval is how often the retention job purges inert rows.
	RetentionInterval string `mapstructure:"RETENTION_INTERVAL"`
	// RetentionAge is how long revoked or expired refresh rows are kept before deletion.
	RetentionAge string `mapstructure:"RETENTION_AGE"`

	// BlacklistBackend selects the access-token blacklist store: postgres, redis, or memory.
	BlacklistBackend string `mapstructure:"BLACKLIST_BACKEND"`
	// RedisURL is required when BlacklistBackend is redis (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// CookieDomain scopes the refresh cookie; empty leaves Domain unset (host-only cookie).
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// KafkaBrokers is a comma-separated list of Kafka brokers; when set, session events are published.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session lifecycle events.
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of cmd/worker's event forwarder.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL cmd/worker forwards session events to; empty disables forwarding.
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AccessPolicyFile optionally points to a Rego file replacing the built-in access policy.
	AccessPolicyFile string `mapstructure:"ACCESS_POLICY_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_ISSUER", "budget-auth")
	v.SetDefault("JWT_AUDIENCE", "budget-web")
	v.SetDefault("JWT_ACTIVE_KID", "")
	v.SetDefault("JWT_KEYS", "")
	v.SetDefault("ACCESS_TOKEN_MINUTES", 15)
	v.SetDefault("REFRESH_SLIDING_DAYS", 7)
	v.SetDefault("REFRESH_ABSOLUTE_DAYS", 30)
	v.SetDefault("SCANNER_INTERVAL", "10s")
	v.SetDefault("WS_HEALTHCHECK_INTERVAL", "30s")
	v.SetDefault("WS_PONG_TIMEOUT", "10s")
	v.SetDefault("RETENTION_INTERVAL", "1h")
	v.SetDefault("RETENTION_AGE", "720h")
	v.SetDefault("BLACKLIST_BACKEND", BlacklistPostgres)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "budget-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "budget-session-events-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("ACCESS_POLICY_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.AccessTokenMinutes <= 0 {
		return nil, errors.New("config: ACCESS_TOKEN_MINUTES must be positive")
	}
	if cfg.RefreshSlidingDays <= 0 || cfg.RefreshAbsoluteDays <= 0 {
		return nil, errors.New("config: REFRESH_SLIDING_DAYS and REFRESH_ABSOLUTE_DAYS must be positive")
	}
	if cfg.RefreshSlidingDays > cfg.RefreshAbsoluteDays {
		return nil, errors.New("config: REFRESH_SLIDING_DAYS must not exceed REFRESH_ABSOLUTE_DAYS")
	}

	cfg.BlacklistBackend = strings.ToLower(strings.TrimSpace(cfg.BlacklistBackend))
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
		}
		if cfg.BlacklistBackend == BlacklistPostgres {
			cfg.BlacklistBackend = BlacklistMemory
		}
	}
	switch cfg.BlacklistBackend {
	case BlacklistPostgres, BlacklistMemory:
	case BlacklistRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when BLACKLIST_BACKEND=redis")
		}
	default:
		return nil, errors.New("config: BLACKLIST_BACKEND must be postgres, redis, or memory")
	}
	if cfg.BlacklistBackend == BlacklistMemory && cfg.IsProduction() {
		return nil, errors.New("config: BLACKLIST_BACKEND=memory is not allowed when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

// RefreshSlidingTTL returns the sliding window extended on each rotation.
func (c *Config) RefreshSlidingTTL() time.Duration {
	return time.Duration(c.RefreshSlidingDays) * 24 * time.Hour
}

// RefreshAbsoluteTTL returns the hard cap of a session's lifetime.
func (c *Config) RefreshAbsoluteTTL() time.Duration {
	return time.Duration(c.RefreshAbsoluteDays) * 24 * time.Hour
}

// ScannerEvery parses ScannerInterval. Returns 10s if unset or invalid.
func (c *Config) ScannerEvery() time.Duration {
	return parseDuration(c.ScannerInterval, 10*time.Second)
}

// HealthCheckEvery parses WSHealthCheckInterval. Returns 30s if unset or invalid.
func (c *Config) HealthCheckEvery() time.Duration {
	return parseDuration(c.WSHealthCheckInterval, 30*time.Second)
}

// PongTimeout parses WSPongTimeout. Returns 10s if unset or invalid.
func (c *Config) PongTimeout() time.Duration {
	return parseDuration(c.WSPongTimeout, 10*time.Second)
}

// RetentionEvery parses RetentionInterval. Returns 1h if unset or invalid.
func (c *Config) RetentionEvery() time.Duration {
	return parseDuration(c.RetentionInterval, time.Hour)
}

// RetentionKeep parses RetentionAge. Returns 720h if unset or invalid.
func (c *Config) RetentionKeep() time.Duration {
	return parseDuration(c.RetentionAge, 720*time.Hour)
}

// KeySpecs splits JWTKeys into kid → source pairs, preserving order. Malformed entries are skipped.
func (c *Config) KeySpecs() map[string]string {
	out := make(map[string]string)
	if c == nil || c.JWTKeys == "" {
		return out
	}
	for _, part := range strings.Split(c.JWTKeys, ",") {
		kid, source, ok := strings.Cut(strings.TrimSpace(part), "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			continue
		}
		out[kid] = strings.TrimSpace(source)
	}
	return out
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
