package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const insertAuditSQL = `
INSERT INTO audit_logs
	(id, actor, role, action, resource_type, resource_id, merchant_id,
	 metadata, payload_digest, ip, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Repository stores audit entries in audit_logs.
type Repository struct {
	db *sql.DB
}

// NewRepository returns nil for a nil db so callers can fall back to LogWriter.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	e := entry.withDefaults(time.Now())
	_, err := r.db.ExecContext(ctx, insertAuditSQL,
		e.ID, e.Actor, e.Role, e.Action, e.ResourceType, e.ResourceID, e.MerchantID,
		[]byte(e.Metadata), e.PayloadDigest, e.IP, e.UserAgent, e.CreatedAt)
	return err
}
