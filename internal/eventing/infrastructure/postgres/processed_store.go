package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	hasProcessedSQL  = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer_name = $2)`
	markProcessedSQL = `
INSERT INTO processed_events (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`
	purgeProcessedSQL = `DELETE FROM processed_events WHERE processed_at < $1`
)

var errInvalidProcessedKey = errors.New("processed store: event id and consumer are required")

// ProcessedStore records which consumer has handled which event.
type ProcessedStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db, now: time.Now}
}

func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, hasProcessedSQL, eventID, consumerName).Scan(&exists)
	return exists, err
}

// MarkProcessed is a no-op for a pair that is already marked.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(eventID, consumerName); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, markProcessedSQL, eventID, consumerName, s.now().UTC())
	return err
}

// PurgeBefore deletes markers older than cutoff and returns how many were removed.
func (s *ProcessedStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}
	res, err := s.db.ExecContext(ctx, purgeProcessedSQL, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ProcessedStore) check(eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if eventID == "" || consumerName == "" {
		return errInvalidProcessedKey
	}
	return nil
}
