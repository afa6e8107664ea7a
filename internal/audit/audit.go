// Package audit records operator actions against billing state.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actions recorded by the HTTP layer.
const (
	ActionProcessOrder    = "billing.process_order"
	ActionStatusChange    = "billing.order_status_change"
	ActionRollover        = "billing.rollover"
	ActionStatementExport = "billing.statement_export"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	MerchantID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON returns the hex SHA-256 of a metadata payload, or "" for none.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// withDefaults fills the id, timestamp and digest of an entry before it is
// written. The digest covers the metadata as the caller sent it.
func (e Entry) withDefaults(now time.Time) Entry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage("{}")
	}
	return e
}

// ClientIP returns the first forwarded address when a proxy set one, else
// the peer address without its port.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LogWriter emits audit entries as structured log lines. Used when no
// database is configured.
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter constructs a log-backed audit logger.
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger.With().Str("component", "audit").Logger()}
}

// Log writes the entry at info level.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	entry = entry.withDefaults(time.Now())
	w.logger.Info().
		Str("audit_id", entry.ID).
		Str("actor", entry.Actor).
		Str("role", entry.Role).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("merchant_id", entry.MerchantID).
		Str("ip", entry.IP).
		Str("payload_digest", entry.PayloadDigest).
		RawJSON("metadata", entry.Metadata).
		Time("at", entry.CreatedAt).
		Msg("audit")
	return nil
}
