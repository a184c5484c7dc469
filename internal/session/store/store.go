// Package store persists session records and per-principal session indexes
// in the shared TTL key-value store. The index is a cache of references,
// never a source of truth: readers reconcile every entry against the
// authoritative session record and self-heal the index on the way.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"session-control-plane/internal/kv"
	"session-control-plane/internal/session/domain"
)

// Key patterns in the shared store.
const (
	sessionKeyPrefix = "session:info:"
	indexKeyPrefix   = "session:active:"
)

var (
	// ErrUnavailable is returned when the backing store fails. It is never
	// collapsed into "zero sessions": undercounting would let a principal
	// exceed its cap.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrVerifyTimeout is returned when a write could not be read back
	// within the configured retry budget.
	ErrVerifyTimeout = errors.New("session write could not be verified")
)

// Config tunes record TTLs and the read-after-write verification loop.
// VerifyDelay is store-dependent (replication lag) and deliberately a knob,
// not a constant.
type Config struct {
	SessionTTL       time.Duration
	RevokedRetention time.Duration
	IndexCap         int
	VerifyRetries    int
	VerifyDelay      time.Duration
}

// Store reads and writes session state through a kv.Store.
type Store struct {
	kv   kv.Store
	cfg  Config
	nowF func() time.Time
}

// New returns a session store over the given kv backend.
func New(backend kv.Store, cfg Config) *Store {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 168 * time.Hour
	}
	if cfg.RevokedRetention <= 0 {
		cfg.RevokedRetention = 24 * time.Hour
	}
	if cfg.IndexCap < 1 {
		cfg.IndexCap = 50
	}
	if cfg.VerifyRetries < 1 {
		cfg.VerifyRetries = 1
	}
	return &Store{
		kv:   backend,
		cfg:  cfg,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. For tests only.
func (s *Store) SetClock(nowF func() time.Time) { s.nowF = nowF }

func sessionKey(id string) string        { return sessionKeyPrefix + id }
func indexKey(principalID string) string { return indexKeyPrefix + principalID }

// CreateSession writes the session record, pushes a snapshot onto the
// principal's index, then polls the store until both are readable. The
// session must not be treated as durably visible unless this returns nil.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrUnavailable, err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), raw, s.cfg.SessionTTL); err != nil {
		return fmt.Errorf("%w: write session %s: %v", ErrUnavailable, sess.ID, err)
	}
	if err := s.pushIndex(ctx, sess); err != nil {
		return err
	}
	return s.verifyCreated(ctx, sess.PrincipalID, sess.ID)
}

// pushIndex prepends a snapshot of sess to the principal's index, replacing
// any stale snapshot with the same id and trimming beyond the cap.
func (s *Store) pushIndex(ctx context.Context, sess *domain.Session) error {
	list, err := s.readIndex(ctx, sess.PrincipalID)
	if err != nil {
		return err
	}
	out := make([]domain.Session, 0, len(list)+1)
	out = append(out, *sess)
	for _, e := range list {
		if e.ID != sess.ID {
			out = append(out, e)
		}
	}
	if len(out) > s.cfg.IndexCap {
		out = out[:s.cfg.IndexCap]
	}
	return s.writeIndex(ctx, sess.PrincipalID, out)
}

// verifyCreated polls until the session record exists and the index contains
// its id. Transient read errors consume an attempt; exhaustion maps to
// ErrVerifyTimeout so the caller can abort the admitting login.
func (s *Store) verifyCreated(ctx context.Context, principalID, sessionID string) error {
	for attempt := 0; attempt < s.cfg.VerifyRetries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, s.cfg.VerifyDelay); err != nil {
				return fmt.Errorf("%w: %v", ErrVerifyTimeout, err)
			}
		}
		_, ok, err := s.kv.Get(ctx, sessionKey(sessionID))
		if err != nil || !ok {
			continue
		}
		list, err := s.readIndex(ctx, principalID)
		if err != nil {
			continue
		}
		for _, e := range list {
			if e.ID == sessionID {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: session %s not visible after %d attempts", ErrVerifyTimeout, sessionID, s.cfg.VerifyRetries)
}

// GetSession returns the session for id, or nil if absent or expired.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read session %s: %v", ErrUnavailable, id, err)
	}
	if !ok {
		return nil, nil
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", ErrUnavailable, id, err)
	}
	return &sess, nil
}

// GetActiveSessions dereferences the principal's index against the
// authoritative session records, drops dangling and non-active references,
// and self-heals the index when anything was dropped. Order is most-recent
// login first, as the index stores it.
func (s *Store) GetActiveSessions(ctx context.Context, principalID string) ([]*domain.Session, error) {
	list, err := s.readIndex(ctx, principalID)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Session, 0, len(list))
	healed := make([]domain.Session, 0, len(list))
	dropped := false
	for _, ref := range list {
		sess, err := s.GetSession(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if sess == nil || !sess.IsActive() {
			dropped = true
			continue
		}
		active = append(active, sess)
		healed = append(healed, *sess)
	}
	if dropped {
		// Lazy compaction; the next reader rebuilds again if this write loses a race.
		_ = s.writeIndex(ctx, principalID, healed)
	}
	return active, nil
}

// ActiveCount returns the number of active sessions for the principal.
func (s *Store) ActiveCount(ctx context.Context, principalID string) (int, error) {
	active, err := s.GetActiveSessions(ctx, principalID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// ReviseSession overwrites the session record. Revoked records are rewritten
// with the short audit-retention TTL so they expire naturally.
func (s *Store) ReviseSession(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrUnavailable, err)
	}
	ttl := s.cfg.SessionTTL
	if sess.Status == domain.StatusRevoked {
		ttl = s.cfg.RevokedRetention
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), raw, ttl); err != nil {
		return fmt.Errorf("%w: revise session %s: %v", ErrUnavailable, sess.ID, err)
	}
	return nil
}

// RemoveFromIndex drops the session id from the principal's index.
// Removing an id that is not present is a no-op.
func (s *Store) RemoveFromIndex(ctx context.Context, principalID, sessionID string) error {
	list, err := s.readIndex(ctx, principalID)
	if err != nil {
		return err
	}
	out := make([]domain.Session, 0, len(list))
	for _, e := range list {
		if e.ID != sessionID {
			out = append(out, e)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	return s.writeIndex(ctx, principalID, out)
}

func (s *Store) readIndex(ctx context.Context, principalID string) ([]domain.Session, error) {
	raw, ok, err := s.kv.Get(ctx, indexKey(principalID))
	if err != nil {
		return nil, fmt.Errorf("%w: read index for %s: %v", ErrUnavailable, principalID, err)
	}
	if !ok {
		return nil, nil
	}
	var list []domain.Session
	if err := json.Unmarshal(raw, &list); err != nil {
		// A corrupt index must not read as "no sessions".
		return nil, fmt.Errorf("%w: decode index for %s: %v", ErrUnavailable, principalID, err)
	}
	return list, nil
}

func (s *Store) writeIndex(ctx context.Context, principalID string, list []domain.Session) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode index for %s: %v", ErrUnavailable, principalID, err)
	}
	if err := s.kv.Set(ctx, indexKey(principalID), raw, s.cfg.SessionTTL); err != nil {
		return fmt.Errorf("%w: write index for %s: %v", ErrUnavailable, principalID, err)
	}
	return nil
}

// VerifyRetries exposes the configured retry budget for callers that re-read
// counts after their own mutations (eviction recount).
func (s *Store) VerifyRetries() int { return s.cfg.VerifyRetries }

// VerifyDelay exposes the configured poll delay.
func (s *Store) VerifyDelay() time.Duration { return s.cfg.VerifyDelay }

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
