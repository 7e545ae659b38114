package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthside-app/hearthside/internal/authz"
)

// PGWriter appends audit rows to PostgreSQL.
type PGWriter struct {
	pool *pgxpool.Pool
}

// NewPGWriter constructs a writer.
func NewPGWriter(pool *pgxpool.Pool) *PGWriter {
	return &PGWriter{pool: pool}
}

// Write persists one entry.
func (w *PGWriter) Write(ctx context.Context, entry authz.AuditEntry) error {
	meta, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO audit_logs (occurred_at, user_id, action, resource_id, resource_type, allowed, reason, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Timestamp, entry.UserID, entry.Action, entry.ResourceID,
		entry.ResourceType, entry.Allowed, entry.Reason, meta)
	return err
}

var _ Writer = (*PGWriter)(nil)
