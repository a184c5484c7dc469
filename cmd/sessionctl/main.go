// sessionctl is the operator CLI for the session control plane: it lists a
// principal's active sessions and force-revokes them, sharing the exact policy
// wiring the auth service runs with so revocations behave identically.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"session-control-plane/internal/audit"
	"session-control-plane/internal/config"
	"session-control-plane/internal/db"
	"session-control-plane/internal/eviction"
	"session-control-plane/internal/kv"
	"session-control-plane/internal/policy"
	"session-control-plane/internal/security"
	"session-control-plane/internal/session/store"
	"session-control-plane/internal/telemetry"
	"session-control-plane/internal/telemetry/otel"
	"session-control-plane/internal/token"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  sessionctl list <principal-id>
  sessionctl revoke-all <principal-id> [reason]`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	command, principalID := os.Args[1], os.Args[2]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng, shutdown, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("wire: %v", err)
	}
	defer shutdown()

	switch command {
	case "list":
		sessions, err := eng.ListActiveSessions(ctx, principalID)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		if len(sessions) == 0 {
			fmt.Printf("no active sessions for %s\n", principalID)
			return
		}
		for _, s := range sessions {
			fmt.Printf("%s  login=%s  last_activity=%s  ip=%s  device=%s/%s/%s\n",
				s.ID,
				s.LoginTime.Format(time.RFC3339),
				s.LastActivityTime.Format(time.RFC3339),
				s.ClientIP,
				s.Device.DeviceType, s.Device.Browser, s.Device.OS)
		}
	case "revoke-all":
		reason := ""
		if len(os.Args) > 3 {
			reason = os.Args[3]
		}
		n, err := eng.RevokeAll(ctx, principalID, reason)
		if err != nil {
			log.Fatalf("revoke-all: %v (revoked %d)", err, n)
		}
		fmt.Printf("revoked %d session(s) for %s\n", n, principalID)
	default:
		usage()
	}
}

// buildEngine wires the policy engine over the configured backing store. The
// returned shutdown flushes telemetry and closes the database.
func buildEngine(ctx context.Context, cfg *config.Config) (*policy.Engine, func(), error) {
	shutdown := func() {}

	var backend kv.Store
	var auditLog *audit.Logger
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		backend = kv.NewPostgresStore(sqlDB, cfg.StoreCallTimeout())
		auditLog = audit.NewLogger(audit.NewPostgresRepository(sqlDB))
		shutdown = func() { _ = sqlDB.Close() }
	} else {
		backend = kv.NewMemoryStore()
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
	}

	tokens := token.NewManager(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, token.Config{
		AccessTTL:            cfg.AccessTTL(),
		RefreshTTL:           cfg.RefreshTTL(),
		RecordGrace:          cfg.TokenRecordGraceTTL(),
		BlacklistFallbackTTL: cfg.BlacklistFallbackTTL(),
	}, backend)

	sessions := store.New(backend, store.Config{
		SessionTTL:       cfg.SessionRecordTTL(),
		RevokedRetention: cfg.RevokedRetentionTTL(),
		IndexCap:         cfg.IndexCap,
		VerifyRetries:    cfg.VerifyRetries,
		VerifyDelay:      cfg.VerifyPollDelay(),
	})
	coordinator := eviction.New(sessions, tokens)

	var metrics *telemetry.Metrics
	if cfg.OTLPEndpoint != "" {
		providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "sessionctl", cfg.Env != "production")
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: %w", err)
		}
		providers.SetGlobal()
		metrics, err = telemetry.NewMetrics(providers.MeterProvider.Meter("sessionctl"))
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: %w", err)
		}
		prev := shutdown
		shutdown = func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = providers.Shutdown(flushCtx)
			prev()
		}
	}

	engine := policy.New(cfg.Mode(), cfg.MaxSessions, sessions, tokens, coordinator, auditLog, metrics)
	return engine, shutdown, nil
}
