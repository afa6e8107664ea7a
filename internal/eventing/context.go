package eventing

import "context"

type (
	envelopeKey struct{}
	metaKey     struct{}
)

// WithEnvelope exposes the delivered envelope to consumers.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope of the event being handled.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

func withMeta(ctx context.Context, set func(*Meta)) context.Context {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	set(&meta)
	return context.WithValue(ctx, metaKey{}, meta)
}

// WithProducer overrides the producer of events published with ctx.
func WithProducer(ctx context.Context, producer string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.Producer = producer })
}

// WithCorrelationID ties events published with ctx to an inbound request.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.CorrelationID = correlationID })
}

// WithEventID pins the id of events published with ctx, so a caller retrying
// the same request produces the same event.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.EventID = eventID })
}

// MetaFromContext returns the metadata set on ctx, with defaultProducer used
// when none was set.
func MetaFromContext(ctx context.Context, defaultProducer string) Meta {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	if meta.Producer == "" {
		meta.Producer = defaultProducer
	}
	return meta
}
