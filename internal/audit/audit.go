// Package audit records security events (logins, evictions, logouts,
// rotations) best-effort: a failed audit write is logged and never affects
// the caller's outcome.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded security event.
type Event struct {
	ID          string
	PrincipalID string
	Action      string
	Resource    string
	IP          string
	Metadata    string
	CreatedAt   time.Time
}

// Actions recorded by the session control plane.
const (
	ActionLoginAdmitted  = "login_admitted"
	ActionLoginRejected  = "login_rejected"
	ActionSessionEvicted = "session_evicted"
	ActionLogout         = "logout"
	ActionTokenRotated   = "token_rotated"
	ActionRevokeAll      = "revoke_all"
)

// Repository persists audit events.
type Repository interface {
	Create(ctx context.Context, e *Event) error
}

// Logger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type Logger struct {
	repo Repository
}

// NewLogger returns a Logger persisting to repo. repo may be nil; then
// LogEvent is a no-op.
func NewLogger(repo Repository) *Logger {
	return &Logger{repo: repo}
}

// LogEvent writes one audit entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, principalID, action, resource, ip, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	e := &Event{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Action:      action,
		Resource:    resource,
		IP:          ip,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, e); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
