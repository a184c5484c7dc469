// Package eviction selects and revokes victim sessions to enforce a
// principal's concurrency cap. Victims are the oldest logins first; after a
// batch the active count is re-read, and a shortfall is an error so the
// admitting login aborts instead of exceeding the cap.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"session-control-plane/internal/session/domain"
)

// ErrShortfall is returned when the post-eviction recount does not confirm
// the expected reduction. The caller must not admit over the cap.
var ErrShortfall = errors.New("eviction did not reach the required headroom")

// SessionStore is the slice of the session store the coordinator needs.
type SessionStore interface {
	GetActiveSessions(ctx context.Context, principalID string) ([]*domain.Session, error)
	ReviseSession(ctx context.Context, sess *domain.Session) error
	RemoveFromIndex(ctx context.Context, principalID, sessionID string) error
	VerifyRetries() int
	VerifyDelay() time.Duration
}

// TokenRevoker invalidates the tokens bound to an evicted session.
type TokenRevoker interface {
	Blacklist(ctx context.Context, token, reason string) error
	RevokeRecord(ctx context.Context, refreshToken string) error
}

// Coordinator drives batch revocation through the session store and token manager.
type Coordinator struct {
	sessions SessionStore
	tokens   TokenRevoker
	nowF     func() time.Time
}

// New returns an eviction coordinator.
func New(sessions SessionStore, tokens TokenRevoker) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		tokens:   tokens,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the coordinator's clock. For tests only.
func (c *Coordinator) SetClock(nowF func() time.Time) { c.nowF = nowF }

// EvictOldest revokes up to count sessions for the principal, oldest login
// first (ties broken by session id for determinism), recording reason on each.
// Returns the number actually revoked. Revocations are not rolled back on
// error: partial eviction only ever reduces concurrency, never exceeds it.
func (c *Coordinator) EvictOldest(ctx context.Context, principalID string, count int, reason string) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	active, err := c.sessions.GetActiveSessions(ctx, principalID)
	if err != nil {
		return 0, err
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].LoginTime.Equal(active[j].LoginTime) {
			return active[i].LoginTime.Before(active[j].LoginTime)
		}
		return active[i].ID < active[j].ID
	})
	if count > len(active) {
		count = len(active)
	}

	evicted := 0
	for _, victim := range active[:count] {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		if err := c.revokeOne(ctx, victim, reason); err != nil {
			log.Printf("eviction: revoke session %s: %v", victim.ID, err)
			continue
		}
		evicted++
	}

	expected := len(active) - evicted
	if err := c.confirmReduction(ctx, principalID, expected); err != nil {
		return evicted, err
	}
	if evicted < count {
		return evicted, fmt.Errorf("%w: revoked %d of %d", ErrShortfall, evicted, count)
	}
	return evicted, nil
}

func (c *Coordinator) revokeOne(ctx context.Context, sess *domain.Session, reason string) error {
	sess.Revoke(reason, c.nowF())
	if err := c.sessions.ReviseSession(ctx, sess); err != nil {
		return err
	}
	if err := c.sessions.RemoveFromIndex(ctx, sess.PrincipalID, sess.ID); err != nil {
		return err
	}
	// Token invalidation is best-effort: the session record is already
	// revoked, which is what admission counts.
	if err := c.tokens.Blacklist(ctx, sess.RefreshToken, reason); err != nil {
		log.Printf("eviction: blacklist refresh token for session %s: %v", sess.ID, err)
	}
	if err := c.tokens.Blacklist(ctx, sess.AccessToken, reason); err != nil {
		log.Printf("eviction: blacklist access token for session %s: %v", sess.ID, err)
	}
	if err := c.tokens.RevokeRecord(ctx, sess.RefreshToken); err != nil {
		log.Printf("eviction: revoke token record for session %s: %v", sess.ID, err)
	}
	return nil
}

// confirmReduction re-reads the active count until it is at or below expected,
// retrying across the store's replication-lag window. Concurrent logins may
// push the count up again; only the reduction this batch owes is confirmed.
func (c *Coordinator) confirmReduction(ctx context.Context, principalID string, expected int) error {
	retries := c.sessions.VerifyRetries()
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.sessions.VerifyDelay())
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w: %v", ErrShortfall, ctx.Err())
			case <-t.C:
			}
		}
		active, err := c.sessions.GetActiveSessions(ctx, principalID)
		if err != nil {
			continue
		}
		if len(active) <= expected {
			return nil
		}
	}
	return fmt.Errorf("%w: count did not converge to %d", ErrShortfall, expected)
}
