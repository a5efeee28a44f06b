package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "budget-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "budget-auth")
	}
	if cfg.JWTAudience != "budget-web" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "budget-web")
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshSlidingTTL() != 7*24*time.Hour {
		t.Errorf("RefreshSlidingTTL = %v, want 168h", cfg.RefreshSlidingTTL())
	}
	if cfg.RefreshAbsoluteTTL() != 30*24*time.Hour {
		t.Errorf("RefreshAbsoluteTTL = %v, want 720h", cfg.RefreshAbsoluteTTL())
	}
	if cfg.ScannerEvery() != 10*time.Second {
		t.Errorf("ScannerEvery = %v, want 10s", cfg.ScannerEvery())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.KafkaGroupID != "budget-session-events-worker" {
		t.Errorf("KafkaGroupID = %q", cfg.KafkaGroupID)
	}
	// No DATABASE_URL outside production falls back to the memory blacklist.
	if cfg.BlacklistBackend != BlacklistMemory {
		t.Errorf("BlacklistBackend = %q, want %q", cfg.BlacklistBackend, BlacklistMemory)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("ACCESS_TOKEN_MINUTES", "5")
	os.Setenv("REFRESH_SLIDING_DAYS", "2")
	os.Setenv("REFRESH_ABSOLUTE_DAYS", "14")
	os.Setenv("SCANNER_INTERVAL", "3s")
	os.Setenv("LOKI_URL", "http://loki:3100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.AccessTTL() != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", cfg.AccessTTL())
	}
	if cfg.RefreshSlidingTTL() != 48*time.Hour {
		t.Errorf("RefreshSlidingTTL = %v, want 48h", cfg.RefreshSlidingTTL())
	}
	if cfg.RefreshAbsoluteTTL() != 14*24*time.Hour {
		t.Errorf("RefreshAbsoluteTTL = %v, want 336h", cfg.RefreshAbsoluteTTL())
	}
	if cfg.ScannerEvery() != 3*time.Second {
		t.Errorf("ScannerEvery = %v, want 3s", cfg.ScannerEvery())
	}
	if cfg.LokiURL != "http://loki:3100" {
		t.Errorf("LokiURL = %q", cfg.LokiURL)
	}
}

func TestLoad_SlidingExceedsAbsolute(t *testing.T) {
	os.Clearenv()
	os.Setenv("REFRESH_SLIDING_DAYS", "40")
	os.Setenv("REFRESH_ABSOLUTE_DAYS", "30")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when sliding window exceeds absolute cap")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_ProductionRequiresDatabase(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatal("Load should return error when APP_ENV=production and DATABASE_URL is empty")
	}
	if err.Error() != "config: DATABASE_URL must be set when APP_ENV=production" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoad_ProductionRejectsMemoryBlacklist(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")
	os.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	os.Setenv("BLACKLIST_BACKEND", "memory")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject the memory blacklist in production")
	}
}

func TestLoad_BlacklistBackend(t *testing.T) {
	testCases := []struct {
		name    string
		backend string
		redis   string
		want    string
		err     bool
	}{
		{"postgres", "postgres", "", BlacklistPostgres, false},
		{"upper case", "POSTGRES", "", BlacklistPostgres, false},
		{"memory", "memory", "", BlacklistMemory, false},
		{"redis with url", "redis", "redis://localhost:6379/0", BlacklistRedis, false},
		{"redis without url", "redis", "", "", true},
		{"unknown", "etcd", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
			os.Setenv("BLACKLIST_BACKEND", tc.backend)
			if tc.redis != "" {
				os.Setenv("REDIS_URL", tc.redis)
			}

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BlacklistBackend != tc.want {
				t.Errorf("BlacklistBackend = %q, want %q", cfg.BlacklistBackend, tc.want)
			}
		})
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"valid middle", "12", 12, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false}, // Should default to 12
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	cfg := &Config{
		ScannerInterval:       "invalid",
		WSHealthCheckInterval: "0",
		WSPongTimeout:         "-5s",
		RetentionInterval:     "",
		RetentionAge:          "nope",
	}
	if got := cfg.ScannerEvery(); got != 10*time.Second {
		t.Errorf("ScannerEvery = %v, want 10s", got)
	}
	if got := cfg.HealthCheckEvery(); got != 30*time.Second {
		t.Errorf("HealthCheckEvery = %v, want 30s", got)
	}
	if got := cfg.PongTimeout(); got != 10*time.Second {
		t.Errorf("PongTimeout = %v, want 10s", got)
	}
	if got := cfg.RetentionEvery(); got != time.Hour {
		t.Errorf("RetentionEvery = %v, want 1h", got)
	}
	if got := cfg.RetentionKeep(); got != 720*time.Hour {
		t.Errorf("RetentionKeep = %v, want 720h", got)
	}
}

func TestKeySpecs(t *testing.T) {
	cfg := &Config{JWTKeys: " k1=base64:AAAA , k2 = env:JWT_K2,broken, =file:/x,k3=file:/etc/keys/k3"}
	specs := cfg.KeySpecs()
	if len(specs) != 3 {
		t.Fatalf("KeySpecs len = %d, want 3 (%v)", len(specs), specs)
	}
	if specs["k1"] != "base64:AAAA" {
		t.Errorf("k1 = %q", specs["k1"])
	}
	if specs["k2"] != "env:JWT_K2" {
		t.Errorf("k2 = %q", specs["k2"])
	}
	if specs["k3"] != "file:/etc/keys/k3" {
		t.Errorf("k3 = %q", specs["k3"])
	}
}

func TestKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should yield nil brokers")
	}
	cfg := &Config{KafkaBrokers: "a:9092, ,b:9092"}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
}
