package token

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/security"
)

// Key patterns in the shared store.
const (
	refreshKeyPrefix   = "token:refresh:"
	blacklistKeyPrefix = "blacklist:token:"
	accessKeyPrefix    = "token:access:"
)

// Record is the persisted metadata for a refresh token. A token whose record
// cannot be found validates as revoked (fail closed).
type Record struct {
	OwnerPrincipalID string `json:"owner_principal_id"`
	// RefreshHash binds the record to its token so a record reached through a
	// corrupted or transplanted key never authorizes a rotation.
	RefreshHash      string    `json:"refresh_hash"`
	IssuingIP        string    `json:"issuing_ip"`
	IssuingUserAgent string    `json:"issuing_user_agent"`
	IssuedAt         time.Time `json:"issued_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
	Revoked          bool      `json:"revoked"`
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Config tunes token lifetimes and retention windows.
type Config struct {
	AccessTTL time.Duration
	// RefreshTTL is week-scale; it also bounds the refresh Record's life in the store.
	RefreshTTL time.Duration
	// RecordGrace is how long a revoked Record stays readable for audit before purge.
	RecordGrace time.Duration
	// BlacklistFallbackTTL is used when a token's embedded expiry cannot be parsed.
	BlacklistFallbackTTL time.Duration
}

// Manager owns the token lifecycle: issuance, verification, rotation, and
// blacklisting. The signing key is a capability handed in at construction.
type Manager struct {
	signer signer
	cfg    Config
	kv     kv.Store
	nowF   func() time.Time
}

// NewManager returns a Manager signing with privateKey (RSA or ECDSA) and
// persisting token state in backend.
func NewManager(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, cfg Config, backend kv.Store) *Manager {
	return &Manager{
		signer: signer{private: privateKey, public: publicKey, issuer: issuer, audience: audience},
		cfg:    cfg,
		kv:     backend,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's clock. For tests only.
func (m *Manager) SetClock(nowF func() time.Time) { m.nowF = nowF }

func refreshKey(token string) string    { return refreshKeyPrefix + token }
func blacklistKey(token string) string  { return blacklistKeyPrefix + token }
func accessKey(sessionID string) string { return accessKeyPrefix + sessionID }

// Issue signs a new access/refresh pair for the principal and records the
// refresh token's metadata. A store failure here is fatal to the login
// attempt: no session may exist without durable tokens.
func (m *Manager) Issue(ctx context.Context, sessionID, principalID, principalName, clientIP, userAgent string) (Pair, error) {
	now := m.nowF()
	access, err := m.signOne(sessionID, principalID, principalName, KindAccess, now, m.cfg.AccessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.signOne(sessionID, principalID, principalName, KindRefresh, now, m.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	rec := Record{
		OwnerPrincipalID: principalID,
		RefreshHash:      security.HashRefreshToken(refresh),
		IssuingIP:        clientIP,
		IssuingUserAgent: userAgent,
		IssuedAt:         now,
		LastUsedAt:       now,
	}
	if err := m.writeRecord(ctx, refresh, &rec, m.cfg.RefreshTTL); err != nil {
		return Pair{}, err
	}
	// Latest access token per session, consulted by rotation to close the
	// replay window on the previous pair. Keyed by session, not principal:
	// rotating one session must never blacklist a sibling session's token.
	if err := m.kv.Set(ctx, accessKey(sessionID), []byte(access), m.cfg.AccessTTL); err != nil {
		return Pair{}, fmt.Errorf("write latest access token for session %s: %w", sessionID, err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) signOne(sessionID, principalID, principalName, kind string, now time.Time, ttl time.Duration) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principalID,
			Issuer:    m.signer.issuer,
			Audience:  jwt.ClaimStrings{m.signer.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PrincipalName: principalName,
		SessionID:     sessionID,
		Kind:          kind,
	}
	return m.signer.sign(claims)
}

// Verify checks signature, expiry, issuer, and audience and returns the claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	return m.signer.verify(tokenString)
}

// VerifyAccess is Verify restricted to access tokens.
func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := m.signer.verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a fresh pair. The old refresh token's
// record must exist, not be revoked, and not be blacklisted. On success the
// old refresh token and the principal's previous access token are both
// blacklisted for the remainder of their validity, closing the replay window
// for anyone who captured the old pair.
func (m *Manager) Rotate(ctx context.Context, oldRefresh string) (Pair, *Claims, error) {
	claims, err := m.signer.verify(oldRefresh)
	if err != nil {
		return Pair{}, nil, ErrInvalidToken
	}
	if claims.Kind != KindRefresh {
		return Pair{}, nil, ErrInvalidToken
	}
	blocked, err := m.IsBlacklisted(ctx, oldRefresh)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("blacklist lookup: %w", err)
	}
	if blocked {
		return Pair{}, nil, ErrInvalidToken
	}
	rec, err := m.record(ctx, oldRefresh)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("token record lookup: %w", err)
	}
	if rec == nil || rec.Revoked {
		return Pair{}, nil, ErrInvalidToken
	}
	if rec.RefreshHash != "" && !security.RefreshTokenHashEqual(oldRefresh, rec.RefreshHash) {
		return Pair{}, nil, ErrInvalidToken
	}

	// Grab the previous access token before Issue overwrites the pointer.
	prevAccess := m.latestAccess(ctx, claims.SessionID)

	pair, err := m.Issue(ctx, claims.SessionID, claims.PrincipalID(), claims.PrincipalName, rec.IssuingIP, rec.IssuingUserAgent)
	if err != nil {
		return Pair{}, nil, err
	}

	rec.Revoked = true
	rec.LastUsedAt = m.nowF()
	if err := m.writeRecord(ctx, oldRefresh, rec, m.cfg.RecordGrace); err != nil {
		// The new pair is already durable; the blacklist below still blocks the old one.
		log.Printf("token: revoke rotated record: %v", err)
	}
	if err := m.Blacklist(ctx, oldRefresh, "TOKEN_ROTATED"); err != nil {
		log.Printf("token: blacklist rotated refresh token: %v", err)
	}
	if prevAccess != "" {
		if err := m.Blacklist(ctx, prevAccess, "TOKEN_ROTATED"); err != nil {
			log.Printf("token: blacklist superseded access token: %v", err)
		}
	}
	return pair, claims, nil
}

// Blacklist invalidates token before its natural expiry. The entry's TTL is
// exactly the token's remaining validity (never longer, to bound blacklist
// growth; never shorter, to avoid a reuse window), falling back to the
// configured default when the token cannot be parsed.
func (m *Manager) Blacklist(ctx context.Context, tokenString, reason string) error {
	if tokenString == "" {
		return nil
	}
	ttl := m.cfg.BlacklistFallbackTTL
	if exp, ok := expiryOf(tokenString); ok {
		remaining := exp.Sub(m.nowF())
		if remaining <= 0 {
			return nil // already past natural expiry
		}
		ttl = remaining
	}
	if err := m.kv.Set(ctx, blacklistKey(tokenString), []byte(reason), ttl); err != nil {
		return fmt.Errorf("write blacklist entry: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether token has a live blacklist entry.
func (m *Manager) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	_, ok, err := m.kv.Get(ctx, blacklistKey(tokenString))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// IsValid reports whether token passes all four checks: signature, expiry,
// blacklist, and (for refresh tokens) a live non-revoked record. Any store
// failure fails closed.
func (m *Manager) IsValid(ctx context.Context, tokenString string) bool {
	claims, err := m.signer.verify(tokenString)
	if err != nil {
		return false
	}
	blocked, err := m.IsBlacklisted(ctx, tokenString)
	if err != nil || blocked {
		return false
	}
	if claims.Kind == KindRefresh {
		rec, err := m.record(ctx, tokenString)
		if err != nil || rec == nil || rec.Revoked {
			return false
		}
	}
	return true
}

// RevokeRecord marks the refresh token's record revoked, retaining it for the
// grace window. Revoking a missing or already-revoked record is a no-op.
func (m *Manager) RevokeRecord(ctx context.Context, refreshToken string) error {
	rec, err := m.record(ctx, refreshToken)
	if err != nil {
		return err
	}
	if rec == nil || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	rec.LastUsedAt = m.nowF()
	return m.writeRecord(ctx, refreshToken, rec, m.cfg.RecordGrace)
}

func (m *Manager) record(ctx context.Context, refreshToken string) (*Record, error) {
	raw, ok, err := m.kv.Get(ctx, refreshKey(refreshToken))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Manager) writeRecord(ctx context.Context, refreshToken string, rec *Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, refreshKey(refreshToken), raw, ttl); err != nil {
		return fmt.Errorf("write token record: %w", err)
	}
	return nil
}

func (m *Manager) latestAccess(ctx context.Context, sessionID string) string {
	raw, ok, err := m.kv.Get(ctx, accessKey(sessionID))
	if err != nil || !ok {
		return ""
	}
	return string(raw)
}
