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
	if cfg.AuthMode != "MULTI" {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, "MULTI")
	}
	if cfg.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d, want 5", cfg.MaxSessions)
	}
	if cfg.JWTIssuer != "session-control" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "session-control")
	}
	if cfg.JWTAudience != "auth-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "auth-api")
	}
	if cfg.JWTAccessTTL != "2h" {
		t.Errorf("JWTAccessTTL = %q, want %q", cfg.JWTAccessTTL, "2h")
	}
	if cfg.JWTRefreshTTL != "168h" {
		t.Errorf("JWTRefreshTTL = %q, want %q", cfg.JWTRefreshTTL, "168h")
	}
	if cfg.IndexCap != 50 {
		t.Errorf("IndexCap = %d, want 50", cfg.IndexCap)
	}
	if cfg.VerifyRetries != 5 {
		t.Errorf("VerifyRetries = %d, want 5", cfg.VerifyRetries)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("AUTH_MODE", "LIMITED")
	os.Setenv("MAX_SESSIONS", "3")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("VERIFY_RETRIES", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthMode != "LIMITED" {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, "LIMITED")
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d, want 3", cfg.MaxSessions)
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.VerifyRetries != 8 {
		t.Errorf("VerifyRetries = %d, want 8", cfg.VerifyRetries)
	}
}

func TestLoad_AuthModeValidation(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		err   bool
	}{
		{"single", "SINGLE", false},
		{"limited", "LIMITED", false},
		{"multi", "MULTI", false},
		{"lowercase", "single", true},
		{"unknown", "PLURAL", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("AUTH_MODE", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatalf("Load(%q) should return error", tc.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.AuthMode != tc.value {
				t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, tc.value)
			}
		})
	}
}

func TestLoad_LimitedRequiresMaxSessions(t *testing.T) {
	os.Clearenv()
	os.Setenv("AUTH_MODE", "LIMITED")
	os.Setenv("MAX_SESSIONS", "0")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when AUTH_MODE=LIMITED and MAX_SESSIONS=0")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_MaxSessionsIgnoredOutsideLimited(t *testing.T) {
	os.Clearenv()
	os.Setenv("AUTH_MODE", "MULTI")
	os.Setenv("MAX_SESSIONS", "0")

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_IndexCapValidation(t *testing.T) {
	os.Clearenv()
	os.Setenv("INDEX_CAP", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load should return error when INDEX_CAP=0")
	}
}

func TestAccessTTL_ValidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_ACCESS_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ttl := cfg.AccessTTL(); ttl != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want %v", ttl, 30*time.Minute)
	}
}

func TestAccessTTL_InvalidFallsBack(t *testing.T) {
	for _, value := range []string{"invalid", "0", "-5m"} {
		os.Clearenv()
		os.Setenv("JWT_ACCESS_TTL", value)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if ttl := cfg.AccessTTL(); ttl != 2*time.Hour {
			t.Errorf("AccessTTL(%q) = %v, want %v (default)", value, ttl, 2*time.Hour)
		}
	}
}

func TestRefreshTTL_ValidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_REFRESH_TTL", "336h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ttl := cfg.RefreshTTL(); ttl != 14*24*time.Hour {
		t.Errorf("RefreshTTL = %v, want %v", ttl, 14*24*time.Hour)
	}
}

func TestRefreshTTL_InvalidFallsBack(t *testing.T) {
	for _, value := range []string{"invalid", "0", "-1h"} {
		os.Clearenv()
		os.Setenv("JWT_REFRESH_TTL", value)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if ttl := cfg.RefreshTTL(); ttl != 168*time.Hour {
			t.Errorf("RefreshTTL(%q) = %v, want %v (default)", value, ttl, 168*time.Hour)
		}
	}
}

func TestDurationKnobs(t *testing.T) {
	os.Clearenv()
	os.Setenv("SESSION_TTL", "72h")
	os.Setenv("REVOKED_RETENTION", "12h")
	os.Setenv("STORE_TIMEOUT", "5s")
	os.Setenv("VERIFY_DELAY", "25ms")
	os.Setenv("BLACKLIST_DEFAULT_TTL", "6h")
	os.Setenv("TOKEN_RECORD_GRACE", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.SessionRecordTTL(); got != 72*time.Hour {
		t.Errorf("SessionRecordTTL = %v, want 72h", got)
	}
	if got := cfg.RevokedRetentionTTL(); got != 12*time.Hour {
		t.Errorf("RevokedRetentionTTL = %v, want 12h", got)
	}
	if got := cfg.StoreCallTimeout(); got != 5*time.Second {
		t.Errorf("StoreCallTimeout = %v, want 5s", got)
	}
	if got := cfg.VerifyPollDelay(); got != 25*time.Millisecond {
		t.Errorf("VerifyPollDelay = %v, want 25ms", got)
	}
	if got := cfg.BlacklistFallbackTTL(); got != 6*time.Hour {
		t.Errorf("BlacklistFallbackTTL = %v, want 6h", got)
	}
	if got := cfg.TokenRecordGraceTTL(); got != 48*time.Hour {
		t.Errorf("TokenRecordGraceTTL = %v, want 48h", got)
	}
}

func TestMode(t *testing.T) {
	os.Clearenv()
	os.Setenv("AUTH_MODE", "SINGLE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode() != "SINGLE" {
		t.Errorf("Mode = %q, want SINGLE", cfg.Mode())
	}
}
