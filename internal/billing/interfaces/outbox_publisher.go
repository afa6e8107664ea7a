package interfaces

import (
	"context"

	"pharmacy-billing/internal/eventing"
	"pharmacy-billing/internal/logging"
)

// Producer names events written by this service.
const Producer = "pharmacy-billing"

// OutboxPublisher writes billing events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// Publish writes event to the outbox, correlated with the request id when
// one is present.
func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithProducer(ctx, Producer)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		ctx = eventing.WithCorrelationID(ctx, id)
	}
	return p.publisher.Publish(ctx, event)
}
