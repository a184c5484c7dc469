// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"session-control-plane/internal/session/domain"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// AuthMode is the login concurrency mode: SINGLE, LIMITED, or MULTI.
	AuthMode string `mapstructure:"AUTH_MODE"`
	// MaxSessions is the per-principal session cap; only used when AUTH_MODE=LIMITED.
	MaxSessions int `mapstructure:"MAX_SESSIONS"`
	// DatabaseURL is the Postgres DSN backing the shared key-value store; empty selects the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "session-control").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "auth-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "2h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// SessionTTL is the backing-store TTL for active session records and indexes (e.g. "168h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// RevokedRetention is how long a revoked session record stays readable for audit (e.g. "24h").
	RevokedRetention string `mapstructure:"REVOKED_RETENTION"`
	// IndexCap is the maximum number of session snapshots kept per principal index; oldest are trimmed beyond it.
	IndexCap int `mapstructure:"INDEX_CAP"`
	// StoreTimeout bounds every key-value store call (e.g. "3s").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// VerifyRetries is the number of read-back polls after a mutating store write.
	VerifyRetries int `mapstructure:"VERIFY_RETRIES"`
	// VerifyDelay is the pause between read-back polls (e.g. "40ms"). Store-dependent; tune per deployment.
	VerifyDelay string `mapstructure:"VERIFY_DELAY"`
	// BlacklistDefaultTTL is the blacklist entry TTL used when a token's expiry cannot be parsed (e.g. "24h").
	BlacklistDefaultTTL string `mapstructure:"BLACKLIST_DEFAULT_TTL"`
	// TokenRecordGrace is how long a revoked refresh TokenRecord is retained for audit before purge (e.g. "24h").
	TokenRecordGrace string `mapstructure:"TOKEN_RECORD_GRACE"`
	// OTLPEndpoint is the OTLP gRPC endpoint for metrics (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("AUTH_MODE", string(domain.AuthModeMulti))
	v.SetDefault("MAX_SESSIONS", 5)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "session-control")
	v.SetDefault("JWT_AUDIENCE", "auth-api")
	v.SetDefault("JWT_ACCESS_TTL", "2h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("REVOKED_RETENTION", "24h")
	v.SetDefault("INDEX_CAP", 50)
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("VERIFY_RETRIES", 5)
	v.SetDefault("VERIFY_DELAY", "40ms")
	v.SetDefault("BLACKLIST_DEFAULT_TTL", "24h")
	v.SetDefault("TOKEN_RECORD_GRACE", "24h")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch domain.AuthMode(cfg.AuthMode) {
	case domain.AuthModeSingle, domain.AuthModeLimited, domain.AuthModeMulti:
	default:
		return nil, fmt.Errorf("config: AUTH_MODE must be SINGLE, LIMITED, or MULTI, got %q", cfg.AuthMode)
	}
	if domain.AuthMode(cfg.AuthMode) == domain.AuthModeLimited && cfg.MaxSessions < 1 {
		return nil, errors.New("config: MAX_SESSIONS must be at least 1 when AUTH_MODE=LIMITED")
	}
	if cfg.IndexCap < 1 {
		return nil, errors.New("config: INDEX_CAP must be at least 1")
	}
	if cfg.VerifyRetries < 1 {
		return nil, errors.New("config: VERIFY_RETRIES must be at least 1")
	}

	return &cfg, nil
}

// Mode returns the configured AuthMode.
func (c *Config) Mode() domain.AuthMode { return domain.AuthMode(c.AuthMode) }

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 2h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return c.duration(c.JWTAccessTTL, 2*time.Hour) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return c.duration(c.JWTRefreshTTL, 168*time.Hour) }

// SessionRecordTTL parses SessionTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) SessionRecordTTL() time.Duration { return c.duration(c.SessionTTL, 168*time.Hour) }

// RevokedRetentionTTL parses RevokedRetention as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) RevokedRetentionTTL() time.Duration {
	return c.duration(c.RevokedRetention, 24*time.Hour)
}

// StoreCallTimeout parses StoreTimeout as a time.Duration. Returns 3s if unset or invalid.
func (c *Config) StoreCallTimeout() time.Duration { return c.duration(c.StoreTimeout, 3*time.Second) }

// VerifyPollDelay parses VerifyDelay as a time.Duration. Returns 40ms if unset or invalid.
func (c *Config) VerifyPollDelay() time.Duration {
	return c.duration(c.VerifyDelay, 40*time.Millisecond)
}

// BlacklistFallbackTTL parses BlacklistDefaultTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) BlacklistFallbackTTL() time.Duration {
	return c.duration(c.BlacklistDefaultTTL, 24*time.Hour)
}

// TokenRecordGraceTTL parses TokenRecordGrace as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) TokenRecordGraceTTL() time.Duration {
	return c.duration(c.TokenRecordGrace, 24*time.Hour)
}

func (c *Config) duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
