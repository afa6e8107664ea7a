package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pharmacy-billing/internal/billing/application"
	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/billing/infrastructure/archive"
	"pharmacy-billing/internal/eventing"
	"pharmacy-billing/internal/notify"
	"pharmacy-billing/internal/observability/metrics"
)

// Consumer names used for idempotency bookkeeping.
const (
	ConsumerOrderStatus      = "billing.order_status"
	ConsumerClassifiedLog    = "billing.classified_log"
	ConsumerStatementArchive = "billing.statement_archive"
)

// StatusTrigger is the order lifecycle entry point of the engine.
type StatusTrigger interface {
	HandleOrderStatusChanged(ctx context.Context, event application.OrderStatusChanged) (application.ProcessResult, error)
}

// OrderStatusConsumer feeds OrderStatusChanged events into the engine and
// raises integrity alerts. Errors are returned so the dispatcher can retry
// or dead-letter the event.
type OrderStatusConsumer struct {
	trigger  StatusTrigger
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewOrderStatusConsumer constructs the consumer. notifier may be nil.
func NewOrderStatusConsumer(trigger StatusTrigger, notifier notify.Notifier, logger zerolog.Logger) (*OrderStatusConsumer, error) {
	if trigger == nil {
		return nil, errors.New("order status consumer: nil trigger")
	}
	return &OrderStatusConsumer{trigger: trigger, notifier: notifier, logger: logger}, nil
}

// Subscribe registers the consumer on bus.
func (c *OrderStatusConsumer) Subscribe(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[application.OrderStatusChanged](), ConsumerOrderStatus, c.Handle, store)
}

// Handle processes one event.
func (c *OrderStatusConsumer) Handle(ctx context.Context, event any) error {
	var evt application.OrderStatusChanged
	switch e := event.(type) {
	case application.OrderStatusChanged:
		evt = e
	case *application.OrderStatusChanged:
		if e == nil {
			return errors.New("order status consumer: nil event")
		}
		evt = *e
	default:
		return fmt.Errorf("order status consumer: unexpected event %T", event)
	}

	result, err := c.trigger.HandleOrderStatusChanged(ctx, evt)
	if err != nil {
		if billing.IsIntegrityFault(err) {
			c.alert(ctx, evt, err)
		}
		return err
	}
	c.logger.Debug().
		Str("order_id", result.OrderID).
		Str("merchant_id", result.MerchantID).
		Str("type", string(result.Type)).
		Str("reason", result.Reason).
		Msg("order status change handled")
	return nil
}

func (c *OrderStatusConsumer) alert(ctx context.Context, evt application.OrderStatusChanged, cause error) {
	code := billing.ErrorCode(cause)
	metrics.IncIntegrityAlert(code)
	msg := notify.AlertMessage{
		Kind:       "integrity",
		MerchantID: evt.MerchantID,
		OrderID:    evt.OrderID,
		ErrorCode:  code,
		Detail:     cause.Error(),
	}
	if env, ok := eventing.EnvelopeFromContext(ctx); ok {
		msg.EventID = env.EventID
	}
	c.logger.Error().Bool("alert", true).Err(cause).
		Str("order_id", evt.OrderID).
		Str("merchant_id", evt.MerchantID).
		Str("code", code).
		Msg("merchant delivered an order without valid billing state")
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, msg); err != nil {
		c.logger.Warn().Err(err).Str("merchant_id", evt.MerchantID).Msg("integrity alert delivery failed")
	}
}

// ClassifiedLogConsumer writes one line per OrderClassified event.
type ClassifiedLogConsumer struct {
	logger zerolog.Logger
}

// NewClassifiedLogConsumer constructs the consumer.
func NewClassifiedLogConsumer(logger zerolog.Logger) *ClassifiedLogConsumer {
	return &ClassifiedLogConsumer{logger: logger}
}

// Subscribe registers the consumer on bus.
func (c *ClassifiedLogConsumer) Subscribe(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[application.OrderClassified](), ConsumerClassifiedLog, c.Handle, store)
}

// Handle logs the event.
func (c *ClassifiedLogConsumer) Handle(_ context.Context, event any) error {
	evt, ok := event.(application.OrderClassified)
	if !ok {
		return fmt.Errorf("classified log consumer: unexpected event %T", event)
	}
	c.logger.Info().
		Str("order_id", evt.OrderID).
		Str("merchant_id", evt.MerchantID).
		Str("cycle_id", evt.CycleID).
		Str("type", string(evt.Type)).
		Int64("fee_cents", evt.FeeCents).
		Msg("order classified event")
	return nil
}

// StatementSource loads statement data for a cycle.
type StatementSource interface {
	GetStatement(ctx context.Context, cycleID string) (application.Statement, error)
}

// StatementArchiveConsumer stores a PDF statement for every closed cycle.
type StatementArchiveConsumer struct {
	source   StatementSource
	store    archive.Store
	currency string
	logger   zerolog.Logger
}

// NewStatementArchiveConsumer constructs the consumer.
func NewStatementArchiveConsumer(source StatementSource, store archive.Store, currency string, logger zerolog.Logger) (*StatementArchiveConsumer, error) {
	if source == nil {
		return nil, errors.New("statement archive consumer: nil statement source")
	}
	if store == nil {
		return nil, errors.New("statement archive consumer: nil archive store")
	}
	return &StatementArchiveConsumer{source: source, store: store, currency: currency, logger: logger}, nil
}

// Subscribe registers the consumer on bus.
func (c *StatementArchiveConsumer) Subscribe(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[application.CycleClosed](), ConsumerStatementArchive, c.Handle, store)
}

// Handle renders and stores the closed cycle's statement.
func (c *StatementArchiveConsumer) Handle(ctx context.Context, event any) error {
	evt, ok := event.(application.CycleClosed)
	if !ok {
		return fmt.Errorf("statement archive consumer: unexpected event %T", event)
	}
	start := time.Now()
	err := c.archive(ctx, evt)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveStatementExport("archive_pdf", result, time.Since(start))
	return err
}

func (c *StatementArchiveConsumer) archive(ctx context.Context, evt application.CycleClosed) error {
	stmt, err := c.source.GetStatement(ctx, evt.CycleID)
	if err != nil {
		return err
	}
	data, err := BuildStatementPDF(stmt, c.currency)
	if err != nil {
		return err
	}
	key := archive.StatementKey(evt.MerchantID, evt.CycleID, "pdf")
	if err := c.store.Put(ctx, key, data, ContentTypePDF); err != nil {
		return err
	}
	c.logger.Info().Str("cycle_id", evt.CycleID).Str("merchant_id", evt.MerchantID).Str("key", key).Msg("statement archived")
	return nil
}
