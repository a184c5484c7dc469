// Package policy decides, per configured auth mode, whether a new login is
// admitted outright, must evict older sessions first, or replaces all others.
// It is the surface the auth service's request handlers consume.
//
// The engine never trusts a count taken before its own mutations: eviction
// and creation race with concurrent logins for the same principal, so every
// decision point re-reads the store, and every ambiguous outcome (store
// error, verification timeout, eviction shortfall) resolves toward rejecting
// the admitting login rather than exceeding the configured cap.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/audit"
	"session-control-plane/internal/device"
	"session-control-plane/internal/eviction"
	"session-control-plane/internal/session/domain"
	"session-control-plane/internal/telemetry"
	"session-control-plane/internal/token"
)

// ErrPolicyRejected is returned when the concurrency cap cannot be honored
// for a new login. The message is deliberately specific and non-leaking:
// distinct from a credential failure, silent about internal causes.
var ErrPolicyRejected = errors.New("session limit reached")

// ErrInvalidToken mirrors the token manager's generic validation failure.
var ErrInvalidToken = token.ErrInvalidToken

// Principal is a credential-verified identity handed in by the upstream
// password transport.
type Principal struct {
	ID   string
	Name string
}

// CredentialVerifier is the upstream collaborator that produces a verified
// Principal. Implemented elsewhere; the engine only ever sees its output.
type CredentialVerifier interface {
	DecryptAndVerify(ctx context.Context) (Principal, error)
}

// SessionStore is the slice of the session store the engine needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetActiveSessions(ctx context.Context, principalID string) ([]*domain.Session, error)
	ReviseSession(ctx context.Context, sess *domain.Session) error
	RemoveFromIndex(ctx context.Context, principalID, sessionID string) error
}

// TokenManager is the slice of the token manager the engine needs.
type TokenManager interface {
	Issue(ctx context.Context, sessionID, principalID, principalName, clientIP, userAgent string) (token.Pair, error)
	Rotate(ctx context.Context, oldRefresh string) (token.Pair, *token.Claims, error)
	VerifyAccess(tokenString string) (*token.Claims, error)
	Blacklist(ctx context.Context, tokenString, reason string) error
	RevokeRecord(ctx context.Context, refreshToken string) error
}

// Evictor revokes the oldest sessions for a principal.
type Evictor interface {
	EvictOldest(ctx context.Context, principalID string, count int, reason string) (int, error)
}

// Engine is the session policy engine.
type Engine struct {
	mode        domain.AuthMode
	maxSessions int
	sessions    SessionStore
	tokens      TokenManager
	evictor     Evictor
	auditLog    *audit.Logger
	metrics     *telemetry.Metrics
	nowF        func() time.Time
}

// New returns an Engine enforcing mode (maxSessions applies to LIMITED only).
// auditLog and metrics may be nil.
func New(mode domain.AuthMode, maxSessions int, sessions SessionStore, tokens TokenManager, evictor Evictor, auditLog *audit.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		mode:        mode,
		maxSessions: maxSessions,
		sessions:    sessions,
		tokens:      tokens,
		evictor:     evictor,
		auditLog:    auditLog,
		metrics:     metrics,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's clock. For tests only.
func (e *Engine) SetClock(nowF func() time.Time) { e.nowF = nowF }

// AdmitLogin admits one verified login: applies the configured mode (evicting
// older sessions when required), creates the session, issues its token pair,
// and returns a concurrency snapshot recomputed after creation. On any error
// no session survives: the login fully succeeds or fully fails.
func (e *Engine) AdmitLogin(ctx context.Context, principal Principal, clientIP, userAgent string) (*domain.Session, string, string, domain.SessionLimitInfo, error) {
	var info domain.SessionLimitInfo

	active, err := e.sessions.GetActiveSessions(ctx, principal.ID)
	if err != nil {
		e.metrics.LoginRejected(ctx, "store_unavailable")
		return nil, "", "", info, err
	}

	need, reason := e.evictionsNeeded(len(active))
	if need > 0 {
		n, err := e.evictor.EvictOldest(ctx, principal.ID, need, reason)
		e.metrics.SessionsEvicted(ctx, n, reason)
		if n > 0 {
			e.auditLog.LogEvent(ctx, principal.ID, audit.ActionSessionEvicted, "principal:"+principal.ID, clientIP,
				fmt.Sprintf(`{"count":%d,"reason":%q}`, n, reason))
		}
		if err != nil {
			if errors.Is(err, eviction.ErrShortfall) {
				e.metrics.LoginRejected(ctx, "policy")
				e.auditLog.LogEvent(ctx, principal.ID, audit.ActionLoginRejected, "principal:"+principal.ID, clientIP, "")
				return nil, "", "", info, fmt.Errorf("%w: %v", ErrPolicyRejected, err)
			}
			e.metrics.LoginRejected(ctx, "store_unavailable")
			return nil, "", "", info, err
		}
		// Recount after acting, never infer arithmetically: concurrent
		// logins may have landed while the batch ran.
		count, err := e.activeCount(ctx, principal.ID)
		if err != nil {
			e.metrics.LoginRejected(ctx, "store_unavailable")
			return nil, "", "", info, err
		}
		if !e.hasHeadroom(count) {
			e.metrics.LoginRejected(ctx, "policy")
			e.auditLog.LogEvent(ctx, principal.ID, audit.ActionLoginRejected, "principal:"+principal.ID, clientIP, "")
			return nil, "", "", info, fmt.Errorf("%w: %d sessions still active", ErrPolicyRejected, count)
		}
	}

	now := e.nowF()
	sess := &domain.Session{
		ID:               uuid.New().String(),
		PrincipalID:      principal.ID,
		PrincipalName:    principal.Name,
		LoginTime:        now,
		LastActivityTime: now,
		ClientIP:         clientIP,
		UserAgent:        userAgent,
		Device:           device.Parse(userAgent),
		Status:           domain.StatusActive,
	}
	pair, err := e.tokens.Issue(ctx, sess.ID, principal.ID, principal.Name, clientIP, userAgent)
	if err != nil {
		e.metrics.LoginRejected(ctx, "token_issue")
		return nil, "", "", info, fmt.Errorf("issue tokens: %w", err)
	}
	sess.AccessToken = pair.AccessToken
	sess.RefreshToken = pair.RefreshToken

	if err := e.sessions.CreateSession(ctx, sess); err != nil {
		// The record and index entry may have landed and become visible
		// after the verify budget expired; roll the session back too, or a
		// ghost would inflate the count and shield itself from eviction.
		e.abortCreated(ctx, sess)
		e.metrics.LoginRejected(ctx, "store_unavailable")
		return nil, "", "", info, err
	}

	count, err := e.activeCount(ctx, principal.ID)
	if err != nil {
		// The snapshot could not be confirmed; undo rather than hand the
		// caller a session in an unknown concurrency state.
		e.abortCreated(ctx, sess)
		e.metrics.LoginRejected(ctx, "store_unavailable")
		return nil, "", "", info, err
	}

	info = e.limitInfo(count)
	e.metrics.LoginAdmitted(ctx, string(e.mode))
	e.auditLog.LogEvent(ctx, principal.ID, audit.ActionLoginAdmitted, "session:"+sess.ID, clientIP,
		fmt.Sprintf(`{"mode":%q,"active":%d}`, e.mode, count))
	return sess, pair.AccessToken, pair.RefreshToken, info, nil
}

// Rotate exchanges a refresh token for a new pair and re-points the owning
// session's token back-references. Runs independently of admission and may
// race with it safely.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (string, string, error) {
	pair, claims, err := e.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}
	e.metrics.TokenRotated(ctx)

	// Back-references are non-authoritative; failing to update them never
	// fails the rotation.
	sess, err := e.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		log.Printf("policy: load session %s after rotation: %v", claims.SessionID, err)
	} else if sess != nil && sess.IsActive() {
		sess.AccessToken = pair.AccessToken
		sess.RefreshToken = pair.RefreshToken
		sess.LastActivityTime = e.nowF()
		if err := e.sessions.ReviseSession(ctx, sess); err != nil {
			log.Printf("policy: update session %s after rotation: %v", sess.ID, err)
		}
	}
	e.auditLog.LogEvent(ctx, claims.PrincipalID(), audit.ActionTokenRotated, "session:"+claims.SessionID, "", "")
	return pair.AccessToken, pair.RefreshToken, nil
}

// Logout revokes the session bound to accessToken. Idempotent: an invalid
// token or an already-revoked session is a no-op, and every step past
// validation is best-effort so the user-visible logout never blocks on the
// store.
func (e *Engine) Logout(ctx context.Context, accessToken, reason string) error {
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil
	}
	if reason == "" {
		reason = domain.ReasonUserLogout
	}
	if err := e.tokens.Blacklist(ctx, accessToken, reason); err != nil {
		log.Printf("policy: blacklist access token on logout: %v", err)
	} else {
		e.metrics.TokenBlacklisted(ctx, reason)
	}

	sess, err := e.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		log.Printf("policy: load session %s on logout: %v", claims.SessionID, err)
		return nil
	}
	if sess == nil || !sess.IsActive() {
		return nil
	}
	sess.Revoke(reason, e.nowF())
	if err := e.sessions.ReviseSession(ctx, sess); err != nil {
		log.Printf("policy: revoke session %s on logout: %v", sess.ID, err)
	}
	if err := e.sessions.RemoveFromIndex(ctx, sess.PrincipalID, sess.ID); err != nil {
		log.Printf("policy: de-index session %s on logout: %v", sess.ID, err)
	}
	if err := e.tokens.Blacklist(ctx, sess.RefreshToken, reason); err != nil {
		log.Printf("policy: blacklist refresh token on logout: %v", err)
	}
	if err := e.tokens.RevokeRecord(ctx, sess.RefreshToken); err != nil {
		log.Printf("policy: revoke token record on logout: %v", err)
	}
	e.auditLog.LogEvent(ctx, sess.PrincipalID, audit.ActionLogout, "session:"+sess.ID, sess.ClientIP,
		fmt.Sprintf(`{"reason":%q}`, reason))
	return nil
}

// RevokeAll revokes every active session for the principal and returns how
// many were revoked.
func (e *Engine) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	if reason == "" {
		reason = domain.ReasonAdminRevoked
	}
	active, err := e.sessions.GetActiveSessions(ctx, principalID)
	if err != nil {
		return 0, err
	}
	n, err := e.evictor.EvictOldest(ctx, principalID, len(active), reason)
	e.metrics.SessionsEvicted(ctx, n, reason)
	if n > 0 {
		e.auditLog.LogEvent(ctx, principalID, audit.ActionRevokeAll, "principal:"+principalID, "",
			fmt.Sprintf(`{"count":%d,"reason":%q}`, n, reason))
	}
	return n, err
}

// ListActiveSessions returns the principal's active sessions, most recent first.
func (e *Engine) ListActiveSessions(ctx context.Context, principalID string) ([]*domain.Session, error) {
	return e.sessions.GetActiveSessions(ctx, principalID)
}

// UpdateActivity stamps the session bound to accessToken with the current
// time. Invalid tokens and revoked sessions are ignored.
func (e *Engine) UpdateActivity(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil
	}
	sess, err := e.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.IsActive() {
		return nil
	}
	sess.LastActivityTime = e.nowF()
	return e.sessions.ReviseSession(ctx, sess)
}

// evictionsNeeded returns how many sessions must be revoked before admitting
// one more, and the reason to record on the victims.
func (e *Engine) evictionsNeeded(active int) (int, string) {
	switch e.mode {
	case domain.AuthModeSingle:
		if active > 0 {
			return active, domain.ReasonSingleSessionPolicy
		}
	case domain.AuthModeLimited:
		if active >= e.maxSessions {
			// Leave exactly one free slot for the admitting login.
			return active - e.maxSessions + 1, domain.ReasonSessionLimitExceeded
		}
	}
	return 0, ""
}

// hasHeadroom reports whether one more session fits under the cap.
func (e *Engine) hasHeadroom(active int) bool {
	switch e.mode {
	case domain.AuthModeSingle:
		return active == 0
	case domain.AuthModeLimited:
		return active < e.maxSessions
	default:
		return true
	}
}

func (e *Engine) limitInfo(count int) domain.SessionLimitInfo {
	info := domain.SessionLimitInfo{Current: count, Mode: e.mode}
	switch e.mode {
	case domain.AuthModeSingle:
		info.Max = 1
		info.LimitReached = count >= 1
	case domain.AuthModeLimited:
		info.Max = e.maxSessions
		info.LimitReached = count >= e.maxSessions
	}
	return info
}

func (e *Engine) activeCount(ctx context.Context, principalID string) (int, error) {
	active, err := e.sessions.GetActiveSessions(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// discardPair invalidates a freshly issued pair whose session never became
// durable, so no credentials outlive a failed login.
func (e *Engine) discardPair(ctx context.Context, pair token.Pair) {
	if err := e.tokens.Blacklist(ctx, pair.AccessToken, domain.ReasonLoginAborted); err != nil {
		log.Printf("policy: discard access token: %v", err)
	}
	if err := e.tokens.Blacklist(ctx, pair.RefreshToken, domain.ReasonLoginAborted); err != nil {
		log.Printf("policy: discard refresh token: %v", err)
	}
	if err := e.tokens.RevokeRecord(ctx, pair.RefreshToken); err != nil {
		log.Printf("policy: discard token record: %v", err)
	}
}

// abortCreated rolls back a created session whose post-creation snapshot
// could not be confirmed.
func (e *Engine) abortCreated(ctx context.Context, sess *domain.Session) {
	sess.Revoke(domain.ReasonLoginAborted, e.nowF())
	if err := e.sessions.ReviseSession(ctx, sess); err != nil {
		log.Printf("policy: abort session %s: %v", sess.ID, err)
	}
	if err := e.sessions.RemoveFromIndex(ctx, sess.PrincipalID, sess.ID); err != nil {
		log.Printf("policy: de-index aborted session %s: %v", sess.ID, err)
	}
	e.discardPair(ctx, token.Pair{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken})
}
