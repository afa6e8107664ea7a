// Package eventing implements the transactional outbox, the in-process bus
// and idempotent consumers used to move billing events around.
package eventing

import (
	"encoding/json"
	"errors"
	"time"
)

const currentSchemaVersion = 1

// Envelope is the outbox row shape of a billing event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	Producer      string          `json:"producer"`
	MerchantID    string          `json:"merchant_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta carries envelope values chosen by the caller instead of the event.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	Producer      string
	MerchantID    string
	SchemaVersion int
}

// MerchantScoped events name the merchant whose counters they concern.
type MerchantScoped interface {
	EventMerchantID() string
}

// Timestamped events carry their own occurrence time.
type Timestamped interface {
	EventTime() time.Time
}

// BuildEnvelope serializes event and fills missing metadata: the merchant and
// time from the event itself, a fresh event id, and the event id as the
// correlation id.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return Envelope{}, ErrInvalidEventType
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     eventType,
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		Producer:      meta.Producer,
		MerchantID:    meta.MerchantID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	if env.MerchantID == "" {
		if scoped, ok := event.(MerchantScoped); ok {
			env.MerchantID = scoped.EventMerchantID()
		}
	}
	if env.OccurredAt.IsZero() {
		if stamped, ok := event.(Timestamped); ok {
			env.OccurredAt = stamped.EventTime()
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = currentSchemaVersion
	}
	return env, nil
}

// Validate reports whether env can be stored in the outbox.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("eventing: envelope without event id")
	case e.EventType == "":
		return ErrInvalidEventType
	case len(e.Payload) == 0:
		return errors.New("eventing: envelope without payload")
	}
	return nil
}
