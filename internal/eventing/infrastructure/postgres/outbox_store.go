// Package postgres stores outbox rows, consumer markers and dead letters in
// the billing database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"pharmacy-billing/internal/eventing"
)

var errNilDB = errors.New("eventing postgres: nil db")

const (
	insertOutboxSQL = `
INSERT INTO event_outbox (id, event_id, event_type, merchant_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)
ON CONFLICT (event_id) DO NOTHING`

	outboxIDByEventSQL = `SELECT id FROM event_outbox WHERE event_id = $1`

	listPendingSQL = `
SELECT id, attempts, payload
FROM event_outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`

	markSentSQL   = `UPDATE event_outbox SET status = 'sent', sent_at = $2 WHERE id = $1`
	markFailedSQL = `UPDATE event_outbox SET status = 'failed', attempts = attempts + 1 WHERE id = $1`
	markRetrySQL  = `UPDATE event_outbox SET attempts = attempts + 1 WHERE id = $1 AND status = 'pending'`
)

// OutboxStore keeps billing events until the dispatcher delivers them.
type OutboxStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db, now: time.Now}
}

// Insert stores env as pending. Inserting an event id twice keeps the first
// row and returns its id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, insertOutboxSQL, id, env.EventID, env.EventType, env.MerchantID, body, s.now().UTC())
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := s.db.QueryRowContext(ctx, outboxIDByEventSQL, env.EventID).Scan(&id); err != nil {
			return "", err
		}
	}
	return id, nil
}

// ListPending returns up to limit pending rows, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, listPendingSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]eventing.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			rec  eventing.OutboxRecord
			body []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Attempts, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &rec.Envelope); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.exec(ctx, markSentSQL, id, s.now().UTC())
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.exec(ctx, markFailedSQL, id)
}

// MarkRetry counts a failed delivery and leaves the row pending.
func (s *OutboxStore) MarkRetry(ctx context.Context, id string) error {
	return s.exec(ctx, markRetrySQL, id)
}

func (s *OutboxStore) exec(ctx context.Context, query string, args ...any) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
