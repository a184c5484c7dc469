// Package telemetry exposes the session control plane's counters. A nil
// *Metrics is a valid no-op receiver so callers never need to guard.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the control plane's counters.
type Metrics struct {
	loginsAdmitted    metric.Int64Counter
	loginsRejected    metric.Int64Counter
	sessionsEvicted   metric.Int64Counter
	tokensRotated     metric.Int64Counter
	tokensBlacklisted metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.loginsAdmitted, err = meter.Int64Counter("sessions.logins_admitted",
		metric.WithDescription("Logins admitted by the session policy engine")); err != nil {
		return nil, err
	}
	if m.loginsRejected, err = meter.Int64Counter("sessions.logins_rejected",
		metric.WithDescription("Logins rejected by the session policy engine")); err != nil {
		return nil, err
	}
	if m.sessionsEvicted, err = meter.Int64Counter("sessions.evicted",
		metric.WithDescription("Sessions revoked to enforce a concurrency cap")); err != nil {
		return nil, err
	}
	if m.tokensRotated, err = meter.Int64Counter("tokens.rotated",
		metric.WithDescription("Refresh token rotations completed")); err != nil {
		return nil, err
	}
	if m.tokensBlacklisted, err = meter.Int64Counter("tokens.blacklisted",
		metric.WithDescription("Tokens invalidated before natural expiry")); err != nil {
		return nil, err
	}
	return m, nil
}

// LoginAdmitted counts one admitted login under the given mode.
func (m *Metrics) LoginAdmitted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.loginsAdmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// LoginRejected counts one rejected login with the given cause.
func (m *Metrics) LoginRejected(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	m.loginsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// SessionsEvicted counts n evictions for the given reason.
func (m *Metrics) SessionsEvicted(ctx context.Context, n int, reason string) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEvicted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// TokenRotated counts one completed rotation.
func (m *Metrics) TokenRotated(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokensRotated.Add(ctx, 1)
}

// TokenBlacklisted counts one blacklist insertion for the given reason.
func (m *Metrics) TokenBlacklisted(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.tokensBlacklisted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
