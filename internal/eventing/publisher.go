package eventing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pharmacy-billing/internal/observability/metrics"
)

const slowPublish = 50 * time.Millisecond

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher records events in the outbox; delivery happens later through the
// Dispatcher.
type Publisher struct {
	outbox   OutboxWriter
	producer string
	sub      EventBus
	logger   zerolog.Logger
}

// NewPublisher constructs a publisher. sub may be nil when the process only produces.
func NewPublisher(outbox OutboxWriter, producer string, sub EventBus, logger zerolog.Logger) *Publisher {
	return &Publisher{outbox: outbox, producer: producer, sub: sub, logger: logger}
}

// NewEventID returns a random event id.
func NewEventID() string {
	return uuid.NewString()
}

// Publish is a no-op on a publisher without an outbox.
func (p *Publisher) Publish(ctx context.Context, event any) (err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveOutboxPublish(result, time.Since(start))
	}()
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.producer))
	if err != nil {
		return err
	}
	if _, err = p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if took := time.Since(start); took > slowPublish {
		p.logger.Warn().
			Dur("took", took).
			Str("event_type", env.EventType).
			Str("merchant_id", env.MerchantID).
			Msg("slow outbox publish")
	}
	return nil
}

// Subscribe forwards to the bus the publisher was built with.
func (p *Publisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
