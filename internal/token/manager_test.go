package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/security"
)

func newTestManager(t *testing.T, backend kv.Store) *Manager {
	t.Helper()
	priv, pub, err := security.TestKeyPair()
	if err != nil {
		t.Fatalf("TestKeyPair: %v", err)
	}
	cfg := Config{
		AccessTTL:            time.Hour,
		RefreshTTL:           24 * time.Hour,
		RecordGrace:          time.Hour,
		BlacklistFallbackTTL: 30 * time.Minute,
	}
	return NewManager(priv, pub, "test-issuer", "test-audience", cfg, backend)
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	ctx := context.Background()

	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "203.0.113.1", "test-agent")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Issue returned an empty token")
	}

	claims, err := m.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.PrincipalID() != "p1" || claims.SessionID != "sess-1" || claims.PrincipalName != "alice" {
		t.Errorf("access claims = %+v, want p1/sess-1/alice", claims)
	}

	rc, err := m.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if rc.Kind != KindRefresh {
		t.Errorf("refresh kind = %q, want %q", rc.Kind, KindRefresh)
	}

	if !m.IsValid(ctx, pair.AccessToken) {
		t.Error("freshly issued access token should be valid")
	}
	if !m.IsValid(ctx, pair.RefreshToken) {
		t.Error("freshly issued refresh token should be valid")
	}
}

func TestVerify_Malformed(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	if _, err := m.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify malformed = %v, want ErrInvalidToken", err)
	}
	if m.IsValid(context.Background(), "not-a-token") {
		t.Error("malformed token should not be valid")
	}
}

func TestVerifyAccess_RejectsRefreshKind(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	pair, err := m.Issue(context.Background(), "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyAccess(refresh token) = %v, want ErrInvalidToken", err)
	}
}

func TestRotate_InvalidatesPredecessorPair(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	ctx := context.Background()

	old, err := m.Issue(ctx, "sess-1", "p1", "alice", "203.0.113.1", "test-agent")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	fresh, claims, err := m.Rotate(ctx, old.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.PrincipalID() != "p1" {
		t.Errorf("rotated claims = %+v, want sess-1/p1", claims)
	}

	if m.IsValid(ctx, old.RefreshToken) {
		t.Error("old refresh token should fail validation after rotation")
	}
	if m.IsValid(ctx, old.AccessToken) {
		t.Error("old access token should fail validation after rotation")
	}
	if !m.IsValid(ctx, fresh.AccessToken) {
		t.Error("new access token should be valid")
	}
	if !m.IsValid(ctx, fresh.RefreshToken) {
		t.Error("new refresh token should be valid")
	}

	// Replaying the rotated refresh token must fail.
	if _, _, err := m.Rotate(ctx, old.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Rotate(rotated token) = %v, want ErrInvalidToken", err)
	}
}

func TestRotate_CarriesForwardIssuingContext(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()

	old, err := m.Issue(ctx, "sess-1", "p1", "alice", "203.0.113.9", "original-agent")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	fresh, _, err := m.Rotate(ctx, old.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	rec, err := m.record(ctx, fresh.RefreshToken)
	if err != nil || rec == nil {
		t.Fatalf("record: %+v, %v", rec, err)
	}
	if rec.IssuingIP != "203.0.113.9" || rec.IssuingUserAgent != "original-agent" {
		t.Errorf("rotated record = %+v, want original issuing ip/agent", rec)
	}
}

func TestRotate_BlacklistsOnlyOwnSessionsAccessToken(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()

	first, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue sess-1: %v", err)
	}
	second, err := m.Issue(ctx, "sess-2", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue sess-2: %v", err)
	}

	if _, _, err := m.Rotate(ctx, first.RefreshToken); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if m.IsValid(ctx, first.AccessToken) {
		t.Error("rotated session's previous access token should be blacklisted")
	}
	if !m.IsValid(ctx, second.AccessToken) {
		t.Error("sibling session's access token must survive another session's rotation")
	}
}

func TestRotate_RejectsAccessToken(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	ctx := context.Background()
	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := m.Rotate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Rotate(access token) = %v, want ErrInvalidToken", err)
	}
}

func TestRotate_MissingRecordFailsClosed(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()

	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Simulate the record expiring out of the store.
	if err := backend.Delete(ctx, refreshKey(pair.RefreshToken)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := m.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Rotate with missing record = %v, want ErrInvalidToken", err)
	}
	if m.IsValid(ctx, pair.RefreshToken) {
		t.Error("refresh token without a record should not be valid")
	}
}

func TestBlacklist_TTLBoundedByTokenExpiry(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()
	now := time.Now().UTC()
	backend.SetClock(func() time.Time { return now })

	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Blacklist(ctx, pair.AccessToken, "USER_LOGOUT"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	blocked, err := m.IsBlacklisted(ctx, pair.AccessToken)
	if err != nil || !blocked {
		t.Fatalf("IsBlacklisted inside validity = (%v, %v), want true", blocked, err)
	}

	// Past the access token's natural expiry the entry must be gone.
	backend.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	blocked, err = m.IsBlacklisted(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if blocked {
		t.Error("blacklist entry must not outlive the token's own validity")
	}
}

func TestBlacklist_UnparsableTokenUsesFallbackTTL(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()
	now := time.Now().UTC()
	backend.SetClock(func() time.Time { return now })

	if err := m.Blacklist(ctx, "opaque-garbage", "POLICY"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	blocked, _ := m.IsBlacklisted(ctx, "opaque-garbage")
	if !blocked {
		t.Fatal("unparsable token should be blacklisted under the fallback TTL")
	}
	backend.SetClock(func() time.Time { return now.Add(time.Hour) })
	blocked, _ = m.IsBlacklisted(ctx, "opaque-garbage")
	if blocked {
		t.Error("fallback blacklist entry should expire after the configured default")
	}
}

func TestBlacklist_ExpiredTokenIsNoop(t *testing.T) {
	backend := kv.NewMemoryStore()
	m := newTestManager(t, backend)
	ctx := context.Background()

	// Sign a token that is already past its expiry.
	m.SetClock(func() time.Time { return time.Now().UTC().Add(-3 * time.Hour) })
	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	m.SetClock(func() time.Time { return time.Now().UTC() })

	if err := m.Blacklist(ctx, pair.AccessToken, "USER_LOGOUT"); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	blocked, _ := m.IsBlacklisted(ctx, pair.AccessToken)
	if blocked {
		t.Error("a token past its natural expiry needs no blacklist entry")
	}
}

func TestRevokeRecord_Idempotent(t *testing.T) {
	m := newTestManager(t, kv.NewMemoryStore())
	ctx := context.Background()

	pair, err := m.Issue(ctx, "sess-1", "p1", "alice", "ip", "ua")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.RevokeRecord(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeRecord: %v", err)
	}
	if m.IsValid(ctx, pair.RefreshToken) {
		t.Error("refresh token with revoked record should not be valid")
	}
	if err := m.RevokeRecord(ctx, pair.RefreshToken); err != nil {
		t.Errorf("second RevokeRecord should be a no-op, got %v", err)
	}
	if err := m.RevokeRecord(ctx, "never-issued"); err != nil {
		t.Errorf("RevokeRecord of unknown token should be a no-op, got %v", err)
	}
}
