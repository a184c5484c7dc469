package audit

import (
	"context"
	"database/sql"
)

// PostgresRepository persists audit events to the audit_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts one audit event. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, principal_id, action, resource, ip, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.PrincipalID, e.Action, e.Resource,
		sql.NullString{String: e.IP, Valid: e.IP != ""},
		sql.NullString{String: e.Metadata, Valid: e.Metadata != ""},
		e.CreatedAt)
	return err
}
