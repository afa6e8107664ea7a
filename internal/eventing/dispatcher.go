package eventing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pharmacy-billing/internal/observability/metrics"
)

const (
	defaultDispatchBatch = 50
	defaultMaxAttempts   = 5
)

// Dispatcher sends outbox events to the in-process bus.
type Dispatcher struct {
	bus         EventBus
	outbox      OutboxStore
	registry    *Registry
	dlq         DLQStore
	retryable   func(error) bool
	maxAttempts int
	logger      zerolog.Logger
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Attempts int
	Envelope Envelope
}

// DispatcherOption configures a dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryable marks handler errors that keep a record pending instead of
// failing it outright.
func WithRetryable(fn func(error) bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.retryable = fn
	}
}

// WithMaxAttempts bounds how many deliveries a retryable record gets.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatchLogger sets the dispatcher logger.
func WithDispatchLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bus:         bus,
		outbox:      outbox,
		registry:    registry,
		dlq:         dlq,
		maxAttempts: defaultMaxAttempts,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			d.fail(ctx, record, err)
			continue
		}

		if err := d.bus.Publish(WithEnvelope(ctx, env), payload); err != nil {
			if d.retryable != nil && d.retryable(err) && record.Attempts+1 < d.maxAttempts {
				d.logger.Warn().Err(err).
					Str("event_id", env.EventID).
					Str("event_type", env.EventType).
					Int("attempts", record.Attempts+1).
					Msg("event delivery failed, will retry")
				_ = d.outbox.MarkRetry(ctx, record.ID)
				metrics.IncDispatch(metrics.DispatchRetry)
				continue
			}
			d.fail(ctx, record, err)
			continue
		}

		_ = d.outbox.MarkSent(ctx, record.ID)
		metrics.IncDispatch(metrics.DispatchSent)
		metrics.ObserveConsumerLag(env.EventType, time.Since(env.OccurredAt))
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, record OutboxRecord, err error) {
	d.logger.Error().Err(err).
		Str("event_id", record.Envelope.EventID).
		Str("event_type", record.Envelope.EventType).
		Msg("event moved to dead letter queue")
	_ = d.outbox.MarkFailed(ctx, record.ID)
	if d.dlq != nil {
		_ = d.dlq.RecordFailure(ctx, record.Envelope, err)
	}
	metrics.IncDispatch(metrics.DispatchFailed)
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Dispatch(ctx, batch); err != nil {
				d.logger.Error().Err(err).Msg("outbox dispatch failed")
			}
		}
	}
}
