// Package domain holds the session control plane's core types: the session
// record, its status machine, eviction reasons, and the auth concurrency modes.
package domain

import "time"

// Status is the session lifecycle state. Transitions are monotonic:
// ACTIVE -> REVOKED, never back.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

// Logout reasons recorded on a revoked session.
const (
	ReasonSingleSessionPolicy  = "SINGLE_SESSION_POLICY"
	ReasonSessionLimitExceeded = "SESSION_LIMIT_EXCEEDED"
	ReasonUserLogout           = "USER_LOGOUT"
	ReasonTokenRotated         = "TOKEN_ROTATED"
	ReasonAdminRevoked         = "ADMIN_REVOKED"
	// ReasonLoginAborted marks state rolled back when a login could not
	// complete after its tokens or session were partially written.
	ReasonLoginAborted = "LOGIN_ABORTED"
)

// AuthMode is the login concurrency policy applied per principal.
type AuthMode string

const (
	// AuthModeSingle allows at most one concurrent session; a new login evicts all others.
	AuthModeSingle AuthMode = "SINGLE"
	// AuthModeLimited allows at most MaxSessions concurrent sessions; the oldest are evicted to make room.
	AuthModeLimited AuthMode = "LIMITED"
	// AuthModeMulti places no bound on concurrent sessions.
	AuthModeMulti AuthMode = "MULTI"
)

// DeviceInfo is a best-effort, lossy enrichment parsed from the User-Agent.
// Non-authoritative; never consulted for admission decisions.
type DeviceInfo struct {
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
}

// Session represents one authenticated login. Tokens are back-references
// only; their lifecycle is owned by the token manager.
type Session struct {
	ID               string     `json:"id"`
	PrincipalID      string     `json:"principal_id"`
	PrincipalName    string     `json:"principal_name"`
	LoginTime        time.Time  `json:"login_time"`
	LastActivityTime time.Time  `json:"last_activity_time"`
	LogoutTime       *time.Time `json:"logout_time,omitempty"` // nil while active
	LogoutReason     string     `json:"logout_reason,omitempty"`
	ClientIP         string     `json:"client_ip"`
	UserAgent        string     `json:"user_agent"`
	Device           DeviceInfo `json:"device"`
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	Status           Status     `json:"status"`
}

// IsActive reports whether the session is in the ACTIVE state.
func (s *Session) IsActive() bool { return s.Status == StatusActive }

// Revoke marks the session revoked at the given time for the given reason.
// Revoking an already-revoked session is a no-op so revocation stays idempotent.
func (s *Session) Revoke(reason string, at time.Time) {
	if s.Status == StatusRevoked {
		return
	}
	s.Status = StatusRevoked
	s.LogoutReason = reason
	t := at
	s.LogoutTime = &t
}

// SessionLimitInfo is the post-admission concurrency snapshot returned to the caller.
// Max is 0 when the mode is unbounded.
type SessionLimitInfo struct {
	Current      int      `json:"current"`
	Max          int      `json:"max"`
	LimitReached bool     `json:"limit_reached"`
	Mode         AuthMode `json:"mode"`
}
