package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pharmacy-billing/internal/eventing"
)

const recordDeadLetterSQL = `
INSERT INTO dead_letter_events AS d
	(event_id, event_type, merchant_id, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id) DO UPDATE SET
	error = EXCLUDED.error,
	payload = EXCLUDED.payload,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = d.attempts + 1`

// DLQStore keeps events the dispatcher gave up on, one row per event id.
type DLQStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db, now: time.Now}
}

// RecordFailure upserts the dead letter for env, counting repeats.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, recordDeadLetterSQL,
		env.EventID, env.EventType, env.MerchantID, body, reason, s.now().UTC())
	return err
}
