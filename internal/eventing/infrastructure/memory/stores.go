// Package memory holds in-process eventing stores for the memory driver and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pharmacy-billing/internal/eventing"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

type outboxRow struct {
	record    eventing.OutboxRecord
	status    string
	createdAt time.Time
	seq       int
}

// OutboxStore keeps outbox records in memory.
type OutboxStore struct {
	mu      sync.Mutex
	rows    map[string]*outboxRow
	byEvent map[string]string
	seq     int
}

// NewOutboxStore constructs an in-memory outbox.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{rows: make(map[string]*outboxRow), byEvent: make(map[string]string)}
}

// Insert stores an envelope as pending. A repeated event id returns the
// existing record id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	if err := env.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEvent[env.EventID]; ok {
		return id, nil
	}
	id := eventing.NewEventID()
	s.byEvent[env.EventID] = id
	s.seq++
	s.rows[id] = &outboxRow{
		record:    eventing.OutboxRecord{ID: id, Envelope: env},
		status:    statusPending,
		createdAt: time.Now().UTC(),
		seq:       s.seq,
	}
	return id, nil
}

// ListPending returns pending records oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]*outboxRow, 0, len(s.rows))
	for _, row := range s.rows {
		if row.status == statusPending {
			pending = append(pending, row)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]eventing.OutboxRecord, 0, len(pending))
	for _, row := range pending {
		out = append(out, row.record)
	}
	return out, nil
}

// MarkSent marks a record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.update(id, func(row *outboxRow) { row.status = statusSent })
}

// MarkFailed marks a record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.update(id, func(row *outboxRow) {
		row.status = statusFailed
		row.record.Attempts++
	})
}

// MarkRetry increments attempts and keeps the record pending.
func (s *OutboxStore) MarkRetry(ctx context.Context, id string) error {
	return s.update(id, func(row *outboxRow) { row.record.Attempts++ })
}

// Status returns the status and attempts of a record.
func (s *OutboxStore) Status(id string) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return "", 0
	}
	return row.status, row.record.Attempts
}

func (s *OutboxStore) update(id string, fn func(*outboxRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		fn(row)
	}
	return nil
}

// ProcessedStore tracks processed (event, consumer) pairs in memory.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs an in-memory processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether the pair was marked.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"|"+eventID]
	return ok, nil
}

// MarkProcessed records the pair.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[consumerName+"|"+eventID] = struct{}{}
	return nil
}

// DLQEntry is a dead-lettered envelope.
type DLQEntry struct {
	Envelope eventing.Envelope
	Error    string
	Attempts int
}

// DLQStore keeps dead letters in memory.
type DLQStore struct {
	mu      sync.Mutex
	entries map[string]*DLQEntry
}

// NewDLQStore constructs an in-memory DLQ.
func NewDLQStore() *DLQStore {
	return &DLQStore{entries: make(map[string]*DLQEntry)}
}

// RecordFailure inserts or updates a dead letter.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, err error) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	message := ""
	if err != nil {
		message = err.Error()
	}
	entry, ok := s.entries[env.EventID]
	if !ok {
		entry = &DLQEntry{}
		s.entries[env.EventID] = entry
	}
	entry.Envelope = env
	entry.Error = message
	entry.Attempts++
	return nil
}

// Entries returns a snapshot of dead letters.
func (s *DLQStore) Entries() []DLQEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DLQEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	return out
}
