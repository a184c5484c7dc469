package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memRepo struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (r *memRepo) Create(ctx context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func TestLogger_LogEvent(t *testing.T) {
	repo := &memRepo{}
	l := NewLogger(repo)

	l.LogEvent(context.Background(), "p1", ActionLoginAdmitted, "session:s1", "203.0.113.1", `{"mode":"LIMITED"}`)

	if len(repo.events) != 1 {
		t.Fatalf("events = %d, want 1", len(repo.events))
	}
	e := repo.events[0]
	if e.ID == "" {
		t.Error("event ID not set")
	}
	if e.PrincipalID != "p1" || e.Action != ActionLoginAdmitted || e.Resource != "session:s1" {
		t.Errorf("event = %+v", e)
	}
	if e.CreatedAt.IsZero() {
		t.Error("event CreatedAt not set")
	}
}

func TestLogger_RepoFailureIsSwallowed(t *testing.T) {
	l := NewLogger(&memRepo{err: errors.New("db down")})
	// Must not panic or propagate.
	l.LogEvent(context.Background(), "p1", ActionLogout, "session:s1", "", "")
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.LogEvent(context.Background(), "p1", ActionLogout, "session:s1", "", "")
	NewLogger(nil).LogEvent(context.Background(), "p1", ActionLogout, "session:s1", "", "")
}
